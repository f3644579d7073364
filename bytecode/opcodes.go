// Package bytecode defines the stack-machine bytecode consumed by the JIT:
// the opcode table, the Unit container, and helpers to build, decode,
// assemble and disassemble instruction streams.
package bytecode

import (
	"fmt"
	"strings"
)

// Opcode is the first byte of every instruction.
type Opcode byte

// Stack shuffling.
const (
	OpNOP  Opcode = 0x00
	OpPOP  Opcode = 0x01
	OpDUP  Opcode = 0x02
	OpSWAP Opcode = 0x03
	OpSETN Opcode = 0x04 // n:u8; stack[top-n] = top
)

// Constants. PUSH_STRING pushes a fresh mutable copy of a string literal.
const (
	OpPushNil     Opcode = 0x10
	OpPushTrue    Opcode = 0x11
	OpPushFalse   Opcode = 0x12
	OpPushSelf    Opcode = 0x13
	OpPushInt8    Opcode = 0x14 // v:i8
	OpPushInt32   Opcode = 0x15 // v:i32
	OpPushLiteral Opcode = 0x16 // lit:u16
	OpPushFloat   Opcode = 0x17 // v:f64
	OpPushContext Opcode = 0x18
	OpPushString  Opcode = 0x19 // lit:u16
)

// Variables. Temp operands are environment slot offsets rather than dense
// local indices; see Unit.LocalIndex. STORE_* leave the value pushed.
const (
	OpPushTemp      Opcode = 0x20 // slot:u8
	OpPushIvar      Opcode = 0x21 // ivar:u8
	OpPushGlobal    Opcode = 0x22 // lit:u16
	OpStoreTemp     Opcode = 0x23 // slot:u8
	OpStoreIvar     Opcode = 0x24 // ivar:u8
	OpStoreGlobal   Opcode = 0x25 // lit:u16
	OpPushCaptured  Opcode = 0x26 // cap:u8
	OpStoreCaptured Opcode = 0x27 // cap:u8
)

// Full sends: sel:u16 argc:u8. The receiver is pushed before the arguments.
const (
	OpSend      Opcode = 0x30
	OpSendSuper Opcode = 0x31
)

// Operand-free sends of common selectors.
const (
	OpSendPlus   Opcode = 0x40
	OpSendMinus  Opcode = 0x41
	OpSendTimes  Opcode = 0x42
	OpSendDiv    Opcode = 0x43
	OpSendMod    Opcode = 0x44
	OpSendLT     Opcode = 0x45
	OpSendGT     Opcode = 0x46
	OpSendLE     Opcode = 0x47
	OpSendGE     Opcode = 0x48
	OpSendEQ     Opcode = 0x49
	OpSendNE     Opcode = 0x4A
	OpSendAt     Opcode = 0x4B
	OpSendAtPut  Opcode = 0x4C
	OpSendSize   Opcode = 0x4D
	OpSendValue  Opcode = 0x4E
	OpSendValue1 Opcode = 0x4F
	OpSendValue2 Opcode = 0x50
	OpSendNew    Opcode = 0x51
	OpSendClass  Opcode = 0x52
)

// Branches: off:i16, relative to the end of the instruction. All but JUMP
// pop the value they test.
const (
	OpJump       Opcode = 0x60
	OpJumpTrue   Opcode = 0x61
	OpJumpFalse  Opcode = 0x62
	OpJumpNil    Opcode = 0x63
	OpJumpNotNil Opcode = 0x64
)

// Returns.
const (
	OpReturnTop   Opcode = 0x70
	OpReturnSelf  Opcode = 0x71
	OpReturnNil   Opcode = 0x72
	OpBlockReturn Opcode = 0x73 // non-local
)

// Closures.
const (
	OpCreateBlock Opcode = 0x80 // method:u16 ncaptures:u8
	OpCaptureTemp Opcode = 0x81 // slot:u8
	OpCaptureIvar Opcode = 0x82 // ivar:u8
)

// Allocation and primitives.
const (
	OpCreateArray   Opcode = 0x90 // n:u8; pops n elements
	OpCreateObject  Opcode = 0x91 // class:u16 n:u8
	OpDupArray      Opcode = 0x92 // lit:u16
	OpIntern        Opcode = 0x93
	OpCallPrimitive Opcode = 0x94 // prim:u16 argc:u8
)

// EnvDataSize is the number of bookkeeping slots between the last local
// and the environment pointer. Temp operands count from the environment
// pointer downwards across these slots.
const EnvDataSize = 3

// VariableEffect marks opcodes whose stack effect depends on an operand.
const VariableEffect = -128

// OpcodeInfo describes one opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
	StackEffect  int // VariableEffect when operand dependent
}

var opcodeTable [256]*OpcodeInfo

// opcodesByName is keyed by lower-case name.
var opcodesByName = map[string]Opcode{}

func def(op Opcode, name string, operandBytes, effect int) {
	if opcodeTable[op] != nil {
		panic(fmt.Sprintf("bytecode: opcode 0x%02X defined twice", byte(op)))
	}
	opcodeTable[op] = &OpcodeInfo{Name: name, OperandBytes: operandBytes, StackEffect: effect}
	opcodesByName[strings.ToLower(name)] = op
}

func init() {
	def(OpNOP, "NOP", 0, 0)
	def(OpPOP, "POP", 0, -1)
	def(OpDUP, "DUP", 0, 1)
	def(OpSWAP, "SWAP", 0, 0)
	def(OpSETN, "SETN", 1, 0)

	for _, c := range []struct {
		op   Opcode
		name string
		n    int
	}{
		{OpPushNil, "PUSH_NIL", 0}, {OpPushTrue, "PUSH_TRUE", 0},
		{OpPushFalse, "PUSH_FALSE", 0}, {OpPushSelf, "PUSH_SELF", 0},
		{OpPushInt8, "PUSH_INT8", 1}, {OpPushInt32, "PUSH_INT32", 4},
		{OpPushLiteral, "PUSH_LITERAL", 2}, {OpPushFloat, "PUSH_FLOAT", 8},
		{OpPushContext, "PUSH_CONTEXT", 0}, {OpPushString, "PUSH_STRING", 2},
		{OpPushTemp, "PUSH_TEMP", 1}, {OpPushIvar, "PUSH_IVAR", 1},
		{OpPushGlobal, "PUSH_GLOBAL", 2}, {OpPushCaptured, "PUSH_CAPTURED", 1},
		{OpDupArray, "DUP_ARRAY", 2},
	} {
		def(c.op, c.name, c.n, 1)
	}

	def(OpStoreTemp, "STORE_TEMP", 1, 0)
	def(OpStoreIvar, "STORE_IVAR", 1, 0)
	def(OpStoreGlobal, "STORE_GLOBAL", 2, 0)
	def(OpStoreCaptured, "STORE_CAPTURED", 1, 0)

	def(OpSend, "SEND", 3, VariableEffect)
	def(OpSendSuper, "SEND_SUPER", 3, VariableEffect)

	// Quick sends pop receiver and arguments and push one result, so the
	// effect is -argc.
	for _, q := range []struct {
		op   Opcode
		name string
		argc int
	}{
		{OpSendPlus, "SEND_PLUS", 1}, {OpSendMinus, "SEND_MINUS", 1},
		{OpSendTimes, "SEND_TIMES", 1}, {OpSendDiv, "SEND_DIV", 1},
		{OpSendMod, "SEND_MOD", 1}, {OpSendLT, "SEND_LT", 1},
		{OpSendGT, "SEND_GT", 1}, {OpSendLE, "SEND_LE", 1},
		{OpSendGE, "SEND_GE", 1}, {OpSendEQ, "SEND_EQ", 1},
		{OpSendNE, "SEND_NE", 1}, {OpSendAt, "SEND_AT", 1},
		{OpSendAtPut, "SEND_AT_PUT", 2}, {OpSendSize, "SEND_SIZE", 0},
		{OpSendValue, "SEND_VALUE", 0}, {OpSendValue1, "SEND_VALUE1", 1},
		{OpSendValue2, "SEND_VALUE2", 2}, {OpSendNew, "SEND_NEW", 0},
		{OpSendClass, "SEND_CLASS", 0},
	} {
		def(q.op, q.name, 0, -q.argc)
	}

	def(OpJump, "JUMP", 2, 0)
	def(OpJumpTrue, "JUMP_TRUE", 2, -1)
	def(OpJumpFalse, "JUMP_FALSE", 2, -1)
	def(OpJumpNil, "JUMP_NIL", 2, -1)
	def(OpJumpNotNil, "JUMP_NOT_NIL", 2, -1)

	def(OpReturnTop, "RETURN_TOP", 0, -1)
	def(OpReturnSelf, "RETURN_SELF", 0, 0)
	def(OpReturnNil, "RETURN_NIL", 0, 0)
	def(OpBlockReturn, "BLOCK_RETURN", 0, -1)

	def(OpCreateBlock, "CREATE_BLOCK", 3, 1)
	def(OpCaptureTemp, "CAPTURE_TEMP", 1, 0)
	def(OpCaptureIvar, "CAPTURE_IVAR", 1, 0)

	def(OpCreateArray, "CREATE_ARRAY", 1, VariableEffect)
	def(OpCreateObject, "CREATE_OBJECT", 3, VariableEffect)
	def(OpIntern, "INTERN", 0, 0)
	def(OpCallPrimitive, "CALL_PRIMITIVE", 3, VariableEffect)
}

// Info returns the metadata for op. Unknown opcodes get a placeholder
// name and no operands.
func (op Opcode) Info() OpcodeInfo {
	if info := opcodeTable[op]; info != nil {
		return *info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Known reports whether op is defined.
func (op Opcode) Known() bool { return opcodeTable[op] != nil }

func (op Opcode) Name() string      { return op.Info().Name }
func (op Opcode) OperandBytes() int { return op.Info().OperandBytes }
func (op Opcode) String() string    { return op.Info().Name }

// IsBranch reports whether op carries a relative offset.
func (op Opcode) IsBranch() bool {
	return op >= OpJump && op <= OpJumpNotNil
}

// IsConditionalBranch reports whether op tests a value and may fall
// through.
func (op Opcode) IsConditionalBranch() bool {
	return op.IsBranch() && op != OpJump
}

// IsReturn reports whether op leaves the activation.
func (op Opcode) IsReturn() bool {
	return op >= OpReturnTop && op <= OpBlockReturn
}

// LookupOpcode finds an opcode by name, ignoring case.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodesByName[strings.ToLower(name)]
	return op, ok
}
