package buildindex

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same record always
// produces identical bytes, which keeps index files diffable and
// checksummable.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields, so older
// engines can read indices written by newer ones within a version.
var decMode cbor.DecMode

func init() {
	encOpts := cbor.CoreDetEncOptions()
	// resource.PathID, resource.ID and contentstore.Identifier carry
	// unexported fields and serialize through their text form.
	encOpts.TextMarshaler = cbor.TextMarshalerTextString

	var err error
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("buildindex: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("buildindex: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
