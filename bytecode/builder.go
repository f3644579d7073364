package bytecode

import (
	"encoding/binary"
	"math"
)

// Builder appends instructions to a growing code slice. Branches go
// through Labels so forward targets can be patched once known.
type Builder struct {
	code []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]byte, 0, 64)}
}

// Bytes returns the code built so far.
func (b *Builder) Bytes() []byte { return b.code }

// Len returns the offset the next instruction will start at.
func (b *Builder) Len() int { return len(b.code) }

// Emit appends an operand-free opcode.
func (b *Builder) Emit(op Opcode) { b.code = append(b.code, byte(op)) }

// EmitRaw appends one byte without interpreting it.
func (b *Builder) EmitRaw(data byte) { b.code = append(b.code, data) }

func (b *Builder) EmitByte(op Opcode, operand byte) {
	b.code = append(b.code, byte(op), operand)
}

func (b *Builder) EmitInt8(op Opcode, operand int8) {
	b.EmitByte(op, byte(operand))
}

func (b *Builder) EmitUint16(op Opcode, operand uint16) {
	b.code = binary.LittleEndian.AppendUint16(append(b.code, byte(op)), operand)
}

func (b *Builder) EmitInt32(op Opcode, operand int32) {
	b.code = binary.LittleEndian.AppendUint32(append(b.code, byte(op)), uint32(operand))
}

func (b *Builder) EmitFloat64(op Opcode, operand float64) {
	b.code = binary.LittleEndian.AppendUint64(append(b.code, byte(op)), math.Float64bits(operand))
}

// EmitTemp appends PUSH_TEMP or STORE_TEMP for a dense local index in a
// frame of numLocals.
func (b *Builder) EmitTemp(op Opcode, local, numLocals int) {
	b.EmitByte(op, byte(SlotForLocal(local, numLocals)))
}

// EmitSend appends an instruction with a u16 index and a u8 count: SEND,
// SEND_SUPER, CREATE_BLOCK or CREATE_OBJECT.
func (b *Builder) EmitSend(op Opcode, index uint16, count uint8) {
	b.EmitUint16(op, index)
	b.code = append(b.code, count)
}

// EmitCallPrimitive appends CALL_PRIMITIVE.
func (b *Builder) EmitCallPrimitive(primitive uint16, argc uint8) {
	b.EmitSend(OpCallPrimitive, primitive, argc)
}

// Label is a branch target, possibly not yet placed.
type Label struct {
	pos     int   // -1 until Mark
	pending []int // operand offsets waiting for pos
}

// NewLabel returns an unplaced label.
func (b *Builder) NewLabel() *Label { return &Label{pos: -1} }

// Resolved reports whether the label has been placed.
func (l *Label) Resolved() bool { return l.pos >= 0 }

// Position returns the offset the label was placed at.
func (l *Label) Position() int { return l.pos }

// Mark places label at the current offset and patches earlier branches
// to it. Marking a label twice panics.
func (b *Builder) Mark(label *Label) {
	if label.Resolved() {
		panic("bytecode: label marked twice")
	}
	label.pos = len(b.code)
	for _, at := range label.pending {
		b.patch(at, label.pos)
	}
	label.pending = nil
}

// EmitJump appends a branch to label.
func (b *Builder) EmitJump(op Opcode, label *Label) {
	b.code = append(b.code, byte(op), 0, 0)
	at := len(b.code) - 2
	if label.Resolved() {
		b.patch(at, label.pos)
	} else {
		label.pending = append(label.pending, at)
	}
}

// patch writes the i16 offset from the end of the operand at `at` to
// target.
func (b *Builder) patch(at, target int) {
	binary.LittleEndian.PutUint16(b.code[at:], uint16(int16(target-(at+2))))
}
