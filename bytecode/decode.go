package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTruncated is returned when an instruction's operands run past the
	// end of the code.
	ErrTruncated = errors.New("truncated instruction")
	// ErrUnknownOpcode is returned when a byte does not name an opcode.
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// Instruction is one decoded instruction.
type Instruction struct {
	Op   Opcode
	PC   int   // offset of the opcode byte
	Next int   // offset immediately after the operands
	A    int64 // first operand (sign-extended where the encoding is signed)
	B    int64 // second operand, for three-byte operand forms
}

// Target returns the absolute destination of a branch: the post-operand
// offset plus the signed displacement.
func (in Instruction) Target() int {
	return in.Next + int(in.A)
}

// Float returns the inline float operand of PUSH_FLOAT.
func (in Instruction) Float() float64 {
	return math.Float64frombits(uint64(in.A))
}

// StackEffect returns the net stack effect of this instruction, resolving
// operand-dependent effects.
func (in Instruction) StackEffect() int {
	switch in.Op {
	case OpSend, OpSendSuper:
		return -int(in.B)
	case OpCreateArray:
		return 1 - int(in.A)
	case OpCreateObject, OpCallPrimitive:
		return 1 - int(in.B)
	}
	return in.Op.Info().StackEffect
}

// signedOperand reports whether the opcode's single operand is signed.
func signedOperand(op Opcode) bool {
	return op == OpPushInt8 || op == OpPushInt32 || op.IsBranch()
}

// Decode decodes the instruction starting at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w: pc %d outside code of %d bytes", ErrTruncated, pc, len(code))
	}
	op := Opcode(code[pc])
	info := opcodeTable[op]
	if info == nil {
		return Instruction{}, fmt.Errorf("%w: 0x%02X at %d", ErrUnknownOpcode, byte(op), pc)
	}
	in := Instruction{Op: op, PC: pc, Next: pc + 1 + info.OperandBytes}
	if in.Next > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at %d needs %d operand bytes", ErrTruncated, info.Name, pc, info.OperandBytes)
	}
	operands := code[pc+1 : in.Next]
	signed := signedOperand(op)

	switch info.OperandBytes {
	case 0:
	case 1:
		if signed {
			in.A = int64(int8(operands[0]))
		} else {
			in.A = int64(operands[0])
		}
	case 2:
		v := binary.LittleEndian.Uint16(operands)
		if signed {
			in.A = int64(int16(v))
		} else {
			in.A = int64(v)
		}
	case 3:
		in.A = int64(binary.LittleEndian.Uint16(operands))
		in.B = int64(operands[2])
	case 4:
		in.A = int64(int32(binary.LittleEndian.Uint32(operands)))
	case 8:
		in.A = int64(binary.LittleEndian.Uint64(operands))
	default:
		return Instruction{}, fmt.Errorf("bytecode: unsupported operand width %d for %s", info.OperandBytes, info.Name)
	}
	return in, nil
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader walks a bytecode stream one instruction at a time.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Next decodes the instruction at the current position and advances past it.
func (r *BytecodeReader) Next() (Instruction, error) {
	in, err := Decode(r.bytes, r.pos)
	if err != nil {
		return in, err
	}
	r.pos = in.Next
	return in, nil
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}
