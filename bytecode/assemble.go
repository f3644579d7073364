package bytecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrSyntax is returned for malformed assembly text.
var ErrSyntax = errors.New("assembly syntax error")

// Assemble translates assembly text into the unit's Code, appending any
// selectors and primitives it names and recording labels. NumLocals must be
// set first: temp operands are written as dense local indices and encoded
// as slot offsets.
//
// One instruction per line; "name:" defines a label; ";" starts a comment.
//
//	push_temp 0
//	jump_false else
//	push_int8 3
//	return_top
//	else:
//	send foo:bar: 2
//	call_primitive print 1
func (u *Unit) Assemble(src string) error {
	a := &assembler{
		unit:   u,
		b:      NewBuilder(),
		labels: make(map[string]*Label),
	}
	for i, line := range strings.Split(src, "\n") {
		if err := a.line(line); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	for name, l := range a.labels {
		if !l.Resolved() {
			return fmt.Errorf("%w: undefined label %q", ErrSyntax, name)
		}
	}

	u.Code = a.b.Bytes()
	if len(a.labels) > 0 {
		u.Labels = make(map[string]int, len(a.labels))
		for name, l := range a.labels {
			u.Labels[name] = l.Position()
		}
	}
	return nil
}

type assembler struct {
	unit   *Unit
	b      *Builder
	labels map[string]*Label
}

func (a *assembler) label(name string) *Label {
	l, ok := a.labels[name]
	if !ok {
		l = a.b.NewLabel()
		a.labels[name] = l
	}
	return l
}

func (a *assembler) line(line string) error {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	if len(fields) == 1 && strings.HasSuffix(fields[0], ":") {
		l := a.label(strings.TrimSuffix(fields[0], ":"))
		if l.Resolved() {
			return fmt.Errorf("%w: label %q defined twice", ErrSyntax, fields[0])
		}
		a.b.Mark(l)
		return nil
	}

	op, ok := LookupOpcode(fields[0])
	if !ok {
		return fmt.Errorf("%w: unknown mnemonic %q", ErrSyntax, fields[0])
	}
	args := fields[1:]
	want := operandCount(op)
	if len(args) != want {
		return fmt.Errorf("%w: %s takes %d operand(s), got %d", ErrSyntax, fields[0], want, len(args))
	}

	switch op {
	case OpJump, OpJumpTrue, OpJumpFalse, OpJumpNil, OpJumpNotNil:
		a.b.EmitJump(op, a.label(args[0]))

	case OpPushTemp, OpStoreTemp:
		idx, err := intOperand(args[0], 0, math.MaxUint8)
		if err != nil {
			return err
		}
		if int(idx) >= a.unit.NumLocals {
			return fmt.Errorf("%w: local %d in a frame of %d locals", ErrSyntax, idx, a.unit.NumLocals)
		}
		a.b.EmitTemp(op, int(idx), a.unit.NumLocals)

	case OpPushInt8:
		v, err := intOperand(args[0], math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		a.b.EmitInt8(op, int8(v))

	case OpPushInt32:
		v, err := intOperand(args[0], math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		a.b.EmitInt32(op, int32(v))

	case OpPushFloat:
		f, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("%w: bad float %q", ErrSyntax, args[0])
		}
		a.b.EmitFloat64(op, f)

	case OpSend, OpSendSuper:
		argc, err := intOperand(args[1], 0, math.MaxUint8)
		if err != nil {
			return err
		}
		a.b.EmitSend(op, a.selector(args[0]), uint8(argc))

	case OpCallPrimitive:
		argc, err := intOperand(args[1], 0, math.MaxUint8)
		if err != nil {
			return err
		}
		a.b.EmitCallPrimitive(a.primitive(args[0]), uint8(argc))

	case OpCreateBlock, OpCreateObject:
		x, err := intOperand(args[0], 0, math.MaxUint16)
		if err != nil {
			return err
		}
		y, err := intOperand(args[1], 0, math.MaxUint8)
		if err != nil {
			return err
		}
		a.b.EmitSend(op, uint16(x), uint8(y))

	default:
		switch op.OperandBytes() {
		case 0:
			a.b.Emit(op)
		case 1:
			v, err := intOperand(args[0], 0, math.MaxUint8)
			if err != nil {
				return err
			}
			a.b.EmitByte(op, byte(v))
		case 2:
			v, err := intOperand(args[0], 0, math.MaxUint16)
			if err != nil {
				return err
			}
			a.b.EmitUint16(op, uint16(v))
		default:
			return fmt.Errorf("%w: cannot assemble %s", ErrSyntax, op)
		}
	}
	return nil
}

func (a *assembler) selector(name string) uint16 {
	for i, s := range a.unit.Selectors {
		if s == name {
			return uint16(i)
		}
	}
	a.unit.Selectors = append(a.unit.Selectors, name)
	return uint16(len(a.unit.Selectors) - 1)
}

func (a *assembler) primitive(name string) uint16 {
	for i, s := range a.unit.Primitives {
		if s == name {
			return uint16(i)
		}
	}
	a.unit.Primitives = append(a.unit.Primitives, name)
	return uint16(len(a.unit.Primitives) - 1)
}

// operandCount is the number of textual operands a mnemonic takes.
func operandCount(op Opcode) int {
	switch op {
	case OpSend, OpSendSuper, OpCallPrimitive, OpCreateBlock, OpCreateObject:
		return 2
	}
	if op.OperandBytes() > 0 {
		return 1
	}
	return 0
}

func intOperand(s string, lo, hi int64) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrSyntax, s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%w: %d out of range [%d, %d]", ErrSyntax, v, lo, hi)
	}
	return v, nil
}
