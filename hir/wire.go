package hir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("hir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// functionWire is the serialized form of a Function. The union-find table
// travels as explicit [id, target] pairs.
type functionWire struct {
	Name    string      `cbor:"1,keyasint"`
	Entry   BlockID     `cbor:"2,keyasint"`
	Insns   []Insn      `cbor:"3,keyasint"`
	Blocks  []Block     `cbor:"4,keyasint"`
	Forward [][2]InsnID `cbor:"5,keyasint,omitempty"`
}

// MarshalFunction serializes a Function to canonical CBOR.
func MarshalFunction(f *Function) ([]byte, error) {
	return cborEncMode.Marshal(&functionWire{
		Name:    f.Name,
		Entry:   f.Entry,
		Insns:   f.Insns,
		Blocks:  f.Blocks,
		Forward: f.forwarding(),
	})
}

// UnmarshalFunction deserializes a Function and checks its structure.
func UnmarshalFunction(data []byte) (*Function, error) {
	var w functionWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("hir: unmarshal function: %w", err)
	}
	f := &Function{
		Name:      w.Name,
		Entry:     w.Entry,
		Insns:     w.Insns,
		Blocks:    w.Blocks,
		unionFind: NewUnionFind[InsnID](),
	}
	for _, pair := range w.Forward {
		if pair[0] < 0 || int(pair[0]) >= len(f.Insns) || pair[1] < 0 || int(pair[1]) >= len(f.Insns) {
			return nil, fmt.Errorf("hir: unmarshal function: forwarding %s -> %s out of range", pair[0], pair[1])
		}
		f.unionFind.setForward(pair[0], pair[1])
	}
	for _, pair := range w.Forward {
		id := pair[0]
		for steps := 0; ; steps++ {
			next, ok := f.unionFind.Forwarded(id)
			if !ok || next == id {
				break
			}
			if steps > len(w.Forward) {
				return nil, fmt.Errorf("hir: unmarshal function: forwarding cycle through %s", pair[0])
			}
			id = next
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
