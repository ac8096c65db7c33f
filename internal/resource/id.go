package resource

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a source resource in a project. The string form is
// "<type>-<id>" with the type as 8 hex digits and the id as 16.
type ID struct {
	Kind Type
	Num  uint64
}

// NewID generates a new random resource id of the given type.
func NewID(kind Type) ID {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic("resource: reading random bytes: " + err.Error())
	}

	return ID{Kind: kind, Num: binary.BigEndian.Uint64(buf[:])}
}

// String returns the canonical "<type>-<id>" form.
func (id ID) String() string {
	return fmt.Sprintf("%s-%016x", id.Kind, id.Num)
}

// IsZero reports whether the id is the zero value.
func (id ID) IsZero() bool {
	return id.Kind == 0 && id.Num == 0
}

// ParseID parses the canonical form produced by String.
func ParseID(s string) (ID, error) {
	kindStr, numStr, ok := strings.Cut(s, "-")
	if !ok || len(numStr) != 16 {
		return ID{}, fmt.Errorf("invalid resource id %q", s)
	}

	kind, err := ParseType(kindStr)
	if err != nil {
		return ID{}, fmt.Errorf("invalid resource id %q: %w", s, err)
	}

	num, err := strconv.ParseUint(numStr, 16, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid resource id %q: %w", s, err)
	}

	return ID{Kind: kind, Num: num}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}
