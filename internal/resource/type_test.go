package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeFromName(t *testing.T) {
	a := TypeFromName("text_resource")
	b := TypeFromName("text_resource")
	c := TypeFromName("integer_asset")

	assert.Equal(t, a, b, "type tags must be deterministic")
	assert.NotEqual(t, a, c)
}

func TestTypeRoundTrip(t *testing.T) {
	tag := TypeFromName("multitext_resource")

	parsed, err := ParseType(tag.String())
	require.NoError(t, err)
	assert.Equal(t, tag, parsed)

	_, err = ParseType("not-hex!")
	assert.Error(t, err)

	_, err = ParseType("0011")
	assert.Error(t, err, "tag must be exactly 8 hex digits")
}
