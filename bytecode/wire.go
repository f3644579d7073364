package bytecode

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal units encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalUnit serializes a Unit to CBOR bytes.
func MarshalUnit(u *Unit) ([]byte, error) {
	return cborEncMode.Marshal(u)
}

// UnmarshalUnit deserializes a Unit from CBOR bytes.
func UnmarshalUnit(data []byte) (*Unit, error) {
	var u Unit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal unit: %w", err)
	}
	return &u, nil
}

// Hash returns a hex content hash over everything that affects
// compilation. Labels are debugging aids and are left out.
func (u *Unit) Hash() (string, error) {
	stripped := *u
	stripped.Labels = nil
	data, err := cborEncMode.Marshal(&stripped)
	if err != nil {
		return "", fmt.Errorf("bytecode: hash unit: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
