package bytecode

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction formats a single decoded instruction. The unit may
// be nil, in which case table operands are shown as raw indices.
func DisassembleInstruction(in Instruction, u *Unit) string {
	name := in.Op.Name()

	switch in.Op {
	case OpPushInt8, OpPushInt32, OpSETN, OpCreateArray:
		return fmt.Sprintf("%04d  %s %d", in.PC, name, in.A)

	case OpPushTemp, OpStoreTemp:
		if u != nil {
			if idx, err := u.LocalIndex(int(in.A)); err == nil {
				return fmt.Sprintf("%04d  %s %d (local %d)", in.PC, name, in.A, idx)
			}
		}
		return fmt.Sprintf("%04d  %s %d", in.PC, name, in.A)

	case OpPushIvar, OpStoreIvar, OpPushCaptured, OpStoreCaptured, OpCaptureTemp, OpCaptureIvar,
		OpPushGlobal, OpStoreGlobal:
		return fmt.Sprintf("%04d  %s %d", in.PC, name, in.A)

	case OpPushLiteral, OpPushString, OpDupArray:
		if u != nil {
			if lit, err := u.Literal(int(in.A)); err == nil {
				return fmt.Sprintf("%04d  %s %d (%s)", in.PC, name, in.A, lit)
			}
		}
		return fmt.Sprintf("%04d  %s %d", in.PC, name, in.A)

	case OpPushFloat:
		return fmt.Sprintf("%04d  %s %f", in.PC, name, in.Float())

	case OpJump, OpJumpTrue, OpJumpFalse, OpJumpNil, OpJumpNotNil:
		return fmt.Sprintf("%04d  %s %d (-> %04d)", in.PC, name, in.A, in.Target())

	case OpSend, OpSendSuper:
		if u != nil {
			if sel, err := u.Selector(int(in.A)); err == nil {
				return fmt.Sprintf("%04d  %s #%s argc=%d", in.PC, name, sel, in.B)
			}
		}
		return fmt.Sprintf("%04d  %s selector=%d argc=%d", in.PC, name, in.A, in.B)

	case OpCallPrimitive:
		if u != nil {
			if prim, err := u.Primitive(int(in.A)); err == nil {
				return fmt.Sprintf("%04d  %s %s argc=%d", in.PC, name, prim, in.B)
			}
		}
		return fmt.Sprintf("%04d  %s primitive=%d argc=%d", in.PC, name, in.A, in.B)

	case OpCreateBlock:
		return fmt.Sprintf("%04d  %s method=%d captures=%d", in.PC, name, in.A, in.B)

	case OpCreateObject:
		return fmt.Sprintf("%04d  %s class=%d slots=%d", in.PC, name, in.A, in.B)
	}

	return fmt.Sprintf("%04d  %s", in.PC, name)
}

// Disassemble returns a full disassembly of bytecode. Undecodable bytes
// end the listing with an error line.
func Disassemble(bc []byte) string {
	return disassemble(bc, nil)
}

// Disassemble returns a listing of the unit's code with literal, selector
// and local operands resolved.
func (u *Unit) Disassemble() string {
	return disassemble(u.Code, u)
}

func disassemble(bc []byte, u *Unit) string {
	var sb strings.Builder
	r := NewBytecodeReader(bc)
	for r.HasMore() {
		pc := r.Position()
		in, err := r.Next()
		if err != nil {
			fmt.Fprintf(&sb, "%04d  <%v>\n", pc, err)
			break
		}
		if u != nil {
			if label, ok := u.LabelAt(pc); ok {
				fmt.Fprintf(&sb, "%s:\n", label)
			}
		}
		sb.WriteString(DisassembleInstruction(in, u))
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
