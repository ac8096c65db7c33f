// Package resource defines the identifiers used to address content in
// the build graph:
//
//  1. Type - a 32-bit tag identifying a resource content type
//  2. ID - a source resource identifier (type + 64-bit id)
//  3. PathID - a source resource plus an ordered chain of transforms
//  4. Transform - an (input type, output type) pair a compiler performs
//
// All identifiers have a canonical string form and round-trip exactly
// through parse/format, which makes them usable as command line
// arguments, JSON values and persistent index keys.
package resource

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/zeebo/blake3"
)

// Type is a 32-bit tag identifying a resource content type.
// Tags are derived from the type name, so independently built tools
// agree on the tag without a shared registry.
type Type uint32

// TypeFromName derives the type tag for a content type name
// (e.g. "text", "integer_asset").
func TypeFromName(name string) Type {
	sum := blake3.Sum256([]byte(name))
	return Type(binary.BigEndian.Uint32(sum[:4]))
}

// String formats the type as 8 lowercase hex digits.
func (t Type) String() string {
	return fmt.Sprintf("%08x", uint32(t))
}

// ParseType parses the 8-hex-digit form produced by String.
func ParseType(s string) (Type, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid resource type %q: want 8 hex digits", s)
	}

	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid resource type %q: %w", s, err)
	}

	return Type(v), nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}

// Transform identifies a compilation step between two resource types.
type Transform struct {
	From Type
	To   Type
}

// String formats the transform as "<from>-<to>".
func (t Transform) String() string {
	return t.From.String() + "-" + t.To.String()
}
