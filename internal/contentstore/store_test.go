package contentstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	content := []byte("the quick brown fox")
	id, err := store.Write(content)
	require.NoError(t, err)
	assert.Equal(t, HashContent(content), id)
	assert.True(t, store.Exists(id))

	read, err := store.Read(id)
	require.NoError(t, err)
	assert.Equal(t, content, read)
}

func TestStoreWriteIdempotent(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	content := []byte("same bytes twice")
	id1, err := store.Write(content)
	require.NoError(t, err)

	id2, err := store.Write(content)
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "identical content must share one identifier")
}

func TestStoreReadMissing(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(HashContent([]byte("never written")))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.Exists(HashContent([]byte("never written"))))
}

func TestStoreReadCorrupted(t *testing.T) {
	root := t.TempDir()
	store, err := Open(root)
	require.NoError(t, err)

	id, err := store.Write([]byte("payload to damage"))
	require.NoError(t, err)

	hex := id.String()
	blob := filepath.Join(root, hex[:2], hex+".zst")
	require.NoError(t, os.WriteFile(blob, []byte("garbage"), 0o644))

	_, err = store.Read(id)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestIdentifierRoundTrip(t *testing.T) {
	id := HashContent([]byte("identify me"))

	parsed, err := ParseIdentifier(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseIdentifier("too-short")
	assert.Error(t, err)

	assert.False(t, id.IsZero())
	assert.NotZero(t, id.Uint64())
}
