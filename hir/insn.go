package hir

import (
	"fmt"

	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/profile"
)

// Op is the instruction opcode.
type Op uint8

const (
	OpPutSelf      Op = iota // the receiver
	OpConst                  // Val
	OpParam                  // block parameter Index
	OpStringCopy             // fresh copy of Args[0]
	OpStringIntern           // interned symbol for Args[0]
	OpNewArray               // empty array of length Index
	OpArraySet               // Args[0][Index] = Args[1]
	OpArrayDup               // copy of array Args[0]
	OpTest                   // truthiness of Args[0]
	OpSnapshot               // owns State for deoptimization
	OpJump                   // unconditional edge to Target
	OpIfTrue                 // edge to Target when Args[0] tested true
	OpIfFalse                // edge to Target when Args[0] tested false
	OpCCall                  // direct native call Call.Name(Args...)
	OpSend                   // dynamic dispatch Args[0].Call.Name(Args[1:]...)
	OpReturn                 // return Args[0]
	OpNumeric                // Type-specialized Operator on Args[0], Args[1]
	OpGuardType              // Args[0] has kind Type, else deoptimize to Snap
	OpPatchPoint             // invalidated when Invariant stops holding
)

var opNames = [...]string{
	OpPutSelf:      "PutSelf",
	OpConst:        "Const",
	OpParam:        "Param",
	OpStringCopy:   "StringCopy",
	OpStringIntern: "StringIntern",
	OpNewArray:     "NewArray",
	OpArraySet:     "ArraySet",
	OpArrayDup:     "ArrayDup",
	OpTest:         "Test",
	OpSnapshot:     "Snapshot",
	OpJump:         "Jump",
	OpIfTrue:       "IfTrue",
	OpIfFalse:      "IfFalse",
	OpCCall:        "CCall",
	OpSend:         "Send",
	OpReturn:       "Return",
	OpNumeric:      "Numeric",
	OpGuardType:    "GuardType",
	OpPatchPoint:   "PatchPoint",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// IsTerminator reports whether the instruction ends a block.
func (op Op) IsTerminator() bool {
	return op == OpJump || op == OpReturn
}

// IsBranch reports whether the instruction carries a control edge.
func (op Op) IsBranch() bool {
	return op == OpJump || op == OpIfTrue || op == OpIfFalse
}

// HasOutput reports whether the instruction produces a value.
func (op Op) HasOutput() bool {
	switch op {
	case OpJump, OpIfTrue, OpIfFalse, OpReturn, OpArraySet, OpPatchPoint:
		return false
	}
	return true
}

// BinOp is an arithmetic or comparison operator with a fast path.
type BinOp uint8

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinLt
	BinLe
	BinGt
	BinGe
)

var binOpInfo = [...]struct {
	name     string
	selector string
}{
	BinAdd: {"Add", "+"},
	BinSub: {"Sub", "-"},
	BinMul: {"Mul", "*"},
	BinLt:  {"Lt", "<"},
	BinLe:  {"Le", "<="},
	BinGt:  {"Gt", ">"},
	BinGe:  {"Ge", ">="},
}

func (b BinOp) String() string {
	if int(b) < len(binOpInfo) {
		return binOpInfo[b].name
	}
	return fmt.Sprintf("BinOp(%d)", uint8(b))
}

// Selector returns the message the operator stands in for.
func (b BinOp) Selector() string {
	if int(b) < len(binOpInfo) {
		return binOpInfo[b].selector
	}
	return "?"
}

// CallInfo describes a call site.
type CallInfo struct {
	Name string `cbor:"1,keyasint"`
}

// BranchEdge is a control transfer to Target passing Args as the target's
// block parameters.
type BranchEdge struct {
	Target BlockID  `cbor:"1,keyasint"`
	Args   []InsnID `cbor:"2,keyasint,omitempty"`
}

func (e *BranchEdge) String() string {
	return fmt.Sprintf("%s(%s)", e.Target, joinIDs(e.Args))
}

// InvariantKind names a global property compiled code depends on.
type InvariantKind uint8

const (
	// BOPRedefined holds while Operator has not been redefined for Type.
	BOPRedefined InvariantKind = iota
)

// Invariant is an assumption a patch point is tied to.
type Invariant struct {
	Kind     InvariantKind `cbor:"1,keyasint"`
	Type     profile.Kind  `cbor:"2,keyasint"`
	Operator BinOp         `cbor:"3,keyasint"`
}

func (inv *Invariant) String() string {
	switch inv.Kind {
	case BOPRedefined:
		return fmt.Sprintf("BOPRedefined(%s, %s)", inv.Type.Title(), inv.Operator.Selector())
	}
	return fmt.Sprintf("Invariant(%d)", uint8(inv.Kind))
}

// Insn is one HIR instruction. Which fields are meaningful depends on Op;
// unused fields are zero.
type Insn struct {
	Op        Op               `cbor:"1,keyasint"`
	Val       bytecode.Literal `cbor:"2,keyasint"`
	Index     int              `cbor:"3,keyasint,omitempty"`
	Args      []InsnID         `cbor:"4,keyasint,omitempty"`
	Call      *CallInfo        `cbor:"5,keyasint,omitempty"`
	Target    *BranchEdge      `cbor:"6,keyasint,omitempty"`
	Operator  BinOp            `cbor:"7,keyasint,omitempty"`
	Type      profile.Kind     `cbor:"8,keyasint,omitempty"`
	Invariant *Invariant       `cbor:"9,keyasint,omitempty"`
	State     *FrameState      `cbor:"10,keyasint,omitempty"`
	Snap      InsnID           `cbor:"11,keyasint"`
}

// Name returns the printed mnemonic; numeric fast paths are named after
// their operand kind, e.g. FixnumAdd.
func (in *Insn) Name() string {
	if in.Op == OpNumeric {
		return in.Type.Title() + in.Operator.String()
	}
	return in.Op.String()
}

// Operands returns every instruction id the instruction reads, including
// edge arguments and snapshot state, in a fixed order.
func (in *Insn) Operands() []InsnID {
	ops := append([]InsnID(nil), in.Args...)
	if in.Target != nil {
		ops = append(ops, in.Target.Args...)
	}
	if in.State != nil {
		ops = append(ops, in.State.Locals...)
		ops = append(ops, in.State.Stack...)
	}
	if in.Snap != NoInsn {
		ops = append(ops, in.Snap)
	}
	return ops
}

// mapOperands returns a deep copy of in with every operand passed through f.
func (in Insn) mapOperands(f func(InsnID) InsnID) Insn {
	out := in
	if in.Args != nil {
		out.Args = make([]InsnID, len(in.Args))
		for i, a := range in.Args {
			out.Args[i] = f(a)
		}
	}
	if in.Target != nil {
		edge := &BranchEdge{Target: in.Target.Target, Args: make([]InsnID, len(in.Target.Args))}
		for i, a := range in.Target.Args {
			edge.Args[i] = f(a)
		}
		out.Target = edge
	}
	if in.State != nil {
		out.State = in.State.mapIDs(f)
	}
	if in.Snap != NoInsn {
		out.Snap = f(in.Snap)
	}
	if in.Call != nil {
		call := *in.Call
		out.Call = &call
	}
	if in.Invariant != nil {
		inv := *in.Invariant
		out.Invariant = &inv
	}
	return out
}

func joinIDs(ids []InsnID) string {
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ", "
		}
		s += id.String()
	}
	return s
}
