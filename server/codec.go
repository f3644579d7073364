package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborCodec carries service messages as canonical CBOR, the same encoding
// the store and unit hashes use. Connect selects it by the
// "application/cbor" content type.
type cborCodec struct {
	enc cbor.EncMode
}

func newCBORCodec() *cborCodec {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	return &cborCodec{enc: em}
}

func (c *cborCodec) Name() string { return "cbor" }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	return cbor.Unmarshal(data, msg)
}
