// Package contentstore implements the content-addressable blob store
// compilation results are written to. Blobs are keyed by the BLAKE3
// digest of their uncompressed bytes and stored zstd-compressed on
// disk, committed with a write-temp-then-rename so a killed writer
// never leaves a partial blob visible under its identifier.
package contentstore

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Identifier is the 32-byte BLAKE3 digest keying a blob.
type Identifier [32]byte

// HashContent computes the identifier for the given bytes. Identifiers
// are always computed on uncompressed content so they stay valid
// across compression changes.
func HashContent(data []byte) Identifier {
	return Identifier(blake3.Sum256(data))
}

// String returns the identifier as 64 lowercase hex digits.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identifier is all zero bytes.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// Uint64 truncates the identifier to its leading 8 bytes. The build
// index uses this as the source hash of derived resources.
func (id Identifier) Uint64() uint64 {
	var v uint64
	for _, b := range id[:8] {
		v = v<<8 | uint64(b)
	}

	return v
}

// ParseIdentifier parses the hex form produced by String.
func ParseIdentifier(s string) (Identifier, error) {
	var id Identifier
	if len(s) != hex.EncodedLen(len(id)) {
		return Identifier{}, fmt.Errorf("invalid content identifier %q", s)
	}

	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Identifier{}, fmt.Errorf("invalid content identifier %q: %w", s, err)
	}

	return id, nil
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}
