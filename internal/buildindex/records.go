package buildindex

import (
	"encoding/binary"

	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// ResourceInfo is the pulled snapshot of one source resource: its
// declared build dependencies and a checksum over its content and
// dependency list. Checksums drive change detection between pulls.
type ResourceInfo struct {
	ID           resource.PathID   `cbor:"id"`
	Dependencies []resource.PathID `cbor:"deps,omitempty"`
	Checksum     uint64            `cbor:"checksum"`
}

// CompiledResource is one output recorded for a compilation.
type CompiledResource struct {
	Path      resource.PathID         `cbor:"path"`
	ContentID contentstore.Identifier `cbor:"content_id"`
	Size      int                     `cbor:"size"`
}

// Reference is a runtime reference from one compiled resource to
// another, preserved so loading code can resolve secondary content.
type Reference struct {
	From resource.PathID `cbor:"from"`
	To   resource.PathID `cbor:"to"`
}

// CompiledRecord is everything recorded for one cache entry: the
// outputs of a compilation and the references between them.
type CompiledRecord struct {
	Resources  []CompiledResource `cbor:"resources"`
	References []Reference        `cbor:"references,omitempty"`
}

// Key identifies one cache entry: a compile path in a given context
// with a given input state. Two invocations with equal keys are
// interchangeable, which is what makes cache hits sound.
type Key struct {
	Path        resource.PathID
	ContextHash uint64
	SourceHash  uint64
}

// bytes returns the bolt key encoding: both hashes big-endian so
// cursor order groups entries, then the path for uniqueness.
func (k Key) bytes() []byte {
	buf := make([]byte, 16, 16+len(k.Path.String()))
	binary.BigEndian.PutUint64(buf[:8], k.ContextHash)
	binary.BigEndian.PutUint64(buf[8:16], k.SourceHash)
	return append(buf, k.Path.String()...)
}
