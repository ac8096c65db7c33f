package databuild

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/avalon-pipeline/databuild/internal/compiler"
	"github.com/avalon-pipeline/databuild/internal/resource"
	"github.com/avalon-pipeline/databuild/internal/version"
)

// contextHash identifies "what kind of compile, with what tool, under
// what rules": the transform, the compiler's self-declared identity,
// and the engine version. It never depends on the data being
// compiled.
func contextHash(t resource.Transform, compilerHash compiler.Hash) uint64 {
	h := blake3.New()
	h.Write([]byte(t.String()))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(compilerHash))
	h.Write(buf[:])

	h.Write([]byte(version.Data))

	return truncate(h)
}

// foldChecksums combines content checksums order-independently:
// sorted, deduplicated, then hashed. The caller's traversal order
// never leaks into the result.
func foldChecksums(checksums []uint64) uint64 {
	sorted := make([]uint64, len(checksums))
	copy(sorted, checksums)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := blake3.New()
	var buf [8]byte
	var prev uint64
	for i, c := range sorted {
		if i > 0 && c == prev {
			continue
		}
		prev = c

		binary.BigEndian.PutUint64(buf[:], c)
		h.Write(buf[:])
	}

	return truncate(h)
}

func truncate(h *blake3.Hasher) uint64 {
	var sum [32]byte
	h.Sum(sum[:0])
	return binary.BigEndian.Uint64(sum[:8])
}
