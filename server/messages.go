package server

import "github.com/chazu/mjit/bytecode"

// Procedure paths.
const (
	CompileServiceName   = "mjit.v1.CompileService"
	CompileProcedure     = "/" + CompileServiceName + "/Compile"
	DisassembleProcedure = "/" + CompileServiceName + "/Disassemble"
)

// Error kinds reported in CompileResponse.ErrorKind.
const (
	KindStackUnderflow = "stack_underflow"
	KindUnknownOpcode  = "unknown_opcode"
	KindMalformedUnit  = "malformed_unit"
	KindUnitTooLarge   = "unit_too_large"
	KindInternal       = "internal"
)

// CompileRequest asks for the HIR of one unit.
type CompileRequest struct {
	Unit    *bytecode.Unit           `cbor:"1,keyasint"`
	Profile []bytecode.ProfileSample `cbor:"2,keyasint,omitempty"`
	Dump    string                   `cbor:"3,keyasint,omitempty"` // dump level; default "hir"
}

// CompileResponse reports a compilation. Translation failures are reported
// in-band with Success false; only bad requests fail the call.
type CompileResponse struct {
	ID        string `cbor:"1,keyasint"`
	Success   bool   `cbor:"2,keyasint"`
	Error     string `cbor:"3,keyasint,omitempty"`
	ErrorKind string `cbor:"4,keyasint,omitempty"`
	Dump      string `cbor:"5,keyasint,omitempty"`
	NumBlocks int    `cbor:"6,keyasint,omitempty"`
	NumInsns  int    `cbor:"7,keyasint,omitempty"`
	Cached    bool   `cbor:"8,keyasint,omitempty"`
	Function  []byte `cbor:"9,keyasint,omitempty"` // hir.MarshalFunction form
}

// DisassembleRequest asks for a listing of one unit.
type DisassembleRequest struct {
	Unit *bytecode.Unit `cbor:"1,keyasint"`
}

// DisassembleResponse holds the listing.
type DisassembleResponse struct {
	Text string `cbor:"1,keyasint"`
}
