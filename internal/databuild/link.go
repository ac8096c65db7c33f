package databuild

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/avalon-pipeline/databuild/internal/buildindex"
	"github.com/avalon-pipeline/databuild/internal/contentstore"
	"github.com/avalon-pipeline/databuild/internal/manifest"
	"github.com/avalon-pipeline/databuild/internal/resource"
)

// assetMagic marks a linked runtime asset file.
var assetMagic = [4]byte{'d', 'b', 'a', 'f'}

const assetFormatVersion uint16 = 1

// link assembles one compiled resource into a runtime asset file:
// header, the stable ids of resources it references, then the
// compiled payload. The asset is stored back into the content store
// and the manifest points at it, so runtime loading needs one read
// per resource.
func link(store *contentstore.Store, res buildindex.CompiledResource, refs []buildindex.Reference) (manifest.Entry, error) {
	payload, err := store.Read(res.ContentID)
	if err != nil {
		return manifest.Entry{}, fmt.Errorf("%w: payload of %s: %v", ErrLinkFailed, res.Path, err)
	}

	var outgoing []buildindex.Reference
	for _, ref := range refs {
		if ref.From.Equal(res.Path) {
			outgoing = append(outgoing, ref)
		}
	}

	var buf bytes.Buffer
	buf.Write(assetMagic[:])
	binary.Write(&buf, binary.LittleEndian, assetFormatVersion)

	binary.Write(&buf, binary.LittleEndian, uint32(len(outgoing)))
	for _, ref := range outgoing {
		id := ref.To.ResourceID()
		binary.Write(&buf, binary.LittleEndian, uint32(id.Kind))
		binary.Write(&buf, binary.LittleEndian, id.Num)
	}

	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	buf.Write(payload)

	id, err := store.Write(buf.Bytes())
	if err != nil {
		return manifest.Entry{}, fmt.Errorf("%w: storing asset for %s: %v", ErrLinkFailed, res.Path, err)
	}

	return manifest.Entry{Path: res.Path, ContentID: id, Size: buf.Len()}, nil
}

// ReadAsset unpacks a linked asset file into the stable ids it
// references and its compiled payload.
func ReadAsset(data []byte) ([]resource.ID, []byte, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != assetMagic {
		return nil, nil, fmt.Errorf("not an asset file")
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, nil, fmt.Errorf("truncated asset header")
	}
	if version != assetFormatVersion {
		return nil, nil, fmt.Errorf("unsupported asset format version %d", version)
	}

	var refCount uint32
	if err := binary.Read(r, binary.LittleEndian, &refCount); err != nil {
		return nil, nil, fmt.Errorf("truncated asset header")
	}

	refs := make([]resource.ID, 0, refCount)
	for i := uint32(0); i < refCount; i++ {
		var kind uint32
		var num uint64
		if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
			return nil, nil, fmt.Errorf("truncated asset references")
		}
		if err := binary.Read(r, binary.LittleEndian, &num); err != nil {
			return nil, nil, fmt.Errorf("truncated asset references")
		}

		refs = append(refs, resource.ID{Kind: resource.Type(kind), Num: num})
	}

	var payloadLen uint64
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, nil, fmt.Errorf("truncated asset header")
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, fmt.Errorf("truncated asset payload")
	}

	return refs, payload, nil
}
