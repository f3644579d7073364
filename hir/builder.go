package hir

import (
	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/profile"
)

// TypeProfile reports the operand kinds observed at a bytecode offset.
// A false result means the builder must not speculate there.
type TypeProfile interface {
	OperandTypes(pc int) (profile.OperandTypes, bool)
}

// sendInfo describes a single-byte send opcode.
type sendInfo struct {
	selector string
	argc     int
	binop    BinOp
	fast     bool // has a numeric fast path
}

var quickSends = map[bytecode.Opcode]sendInfo{
	bytecode.OpSendPlus:   {"+", 1, BinAdd, true},
	bytecode.OpSendMinus:  {"-", 1, BinSub, true},
	bytecode.OpSendTimes:  {"*", 1, BinMul, true},
	bytecode.OpSendDiv:    {"/", 1, 0, false},
	bytecode.OpSendMod:    {"\\\\", 1, 0, false},
	bytecode.OpSendLT:     {"<", 1, BinLt, true},
	bytecode.OpSendGT:     {">", 1, BinGt, true},
	bytecode.OpSendLE:     {"<=", 1, BinLe, true},
	bytecode.OpSendGE:     {">=", 1, BinGe, true},
	bytecode.OpSendEQ:     {"=", 1, 0, false},
	bytecode.OpSendNE:     {"~=", 1, 0, false},
	bytecode.OpSendAt:     {"at:", 1, 0, false},
	bytecode.OpSendAtPut:  {"at:put:", 2, 0, false},
	bytecode.OpSendSize:   {"size", 0, 0, false},
	bytecode.OpSendValue:  {"value", 0, 0, false},
	bytecode.OpSendValue1: {"value:", 1, 0, false},
	bytecode.OpSendValue2: {"value:value:", 2, 0, false},
	bytecode.OpSendNew:    {"new", 0, 0, false},
	bytecode.OpSendClass:  {"class", 0, 0, false},
}

// pending is a block waiting on the worklist together with the state its
// first predecessor left behind.
type pending struct {
	state *FrameState
	block BlockID
	pc    int
}

type builder struct {
	unit    *bytecode.Unit
	profile TypeProfile
	fn      *Function

	blocks map[int]BlockID // discovered target offset -> placeholder block
	depth  map[BlockID]int // stack depth every edge into a block must carry
	queue  []pending
}

// FromUnit translates a bytecode unit into HIR. prof may be nil.
//
// Translation is all-or-nothing: on error no Function is returned. The
// errors are *StackUnderflowError, *UnknownOpcodeError, and
// ErrMalformedUnit (wrapped) for units that break the bytecode contract.
func FromUnit(u *bytecode.Unit, prof TypeProfile) (*Function, error) {
	if u.NumParams < 0 || u.NumLocals < u.NumParams {
		return nil, malformed(0, "%d params in a frame of %d locals", u.NumParams, u.NumLocals)
	}
	if len(u.Code) == 0 {
		return nil, malformed(0, "empty code")
	}

	targets, err := ComputeJumpTargets(u)
	if err != nil {
		return nil, err
	}

	b := &builder{
		unit:    u,
		profile: prof,
		fn:      NewFunction(u.Name),
		blocks:  make(map[int]BlockID, len(targets)),
		depth:   make(map[BlockID]int),
	}
	for _, off := range targets {
		b.blocks[off] = b.fn.newBlock(off)
	}

	entry := b.fn.Entry
	state := &FrameState{Locals: make([]InsnID, u.NumLocals)}
	for i := 0; i < u.NumLocals; i++ {
		if i < u.NumParams {
			state.Locals[i] = b.fn.pushParam(entry)
		} else {
			state.Locals[i] = b.fn.pushInsn(entry, Insn{Op: OpConst, Val: bytecode.Literal{Kind: bytecode.LitNil}})
		}
	}

	if first, ok := b.blocks[0]; ok {
		// Offset 0 is a loop header; the entry block only seeds the frame.
		if err := b.jump(entry, first, state); err != nil {
			return nil, err
		}
	} else {
		b.queue = append(b.queue, pending{state: state, block: entry, pc: 0})
	}

	visited := make(map[BlockID]bool)
	for len(b.queue) > 0 {
		item := b.queue[0]
		b.queue = b.queue[1:]
		if visited[item.block] {
			continue
		}
		visited[item.block] = true

		state := item.state
		if item.block != entry {
			state = b.seedParams(item.block, item.state)
		}
		if err := b.translateBlock(item.block, state, item.pc); err != nil {
			return nil, err
		}
	}
	return b.fn, nil
}

// seedParams gives block one parameter per local and per stack slot of the
// incoming state and returns the state expressed in those parameters.
func (b *builder) seedParams(block BlockID, incoming *FrameState) *FrameState {
	state := &FrameState{
		PC:     incoming.PC,
		Locals: make([]InsnID, len(incoming.Locals)),
		Stack:  make([]InsnID, len(incoming.Stack)),
	}
	for i := range incoming.Locals {
		state.Locals[i] = b.fn.pushParam(block)
	}
	for i := range incoming.Stack {
		state.Stack[i] = b.fn.pushParam(block)
	}
	return state
}

// enqueue schedules target with a copy of state.
func (b *builder) enqueue(target BlockID, state *FrameState, pc int) error {
	if d, ok := b.depth[target]; ok {
		if d != len(state.Stack) {
			return malformed(pc, "%s reached with stack depth %d, expected %d", target, len(state.Stack), d)
		}
	} else {
		b.depth[target] = len(state.Stack)
	}
	b.queue = append(b.queue, pending{state: state.Clone(), block: target, pc: b.fn.Blocks[target].PC})
	return nil
}

// edge builds a branch edge carrying the whole state.
func (b *builder) edge(target BlockID, state *FrameState) *BranchEdge {
	return &BranchEdge{Target: target, Args: state.Args()}
}

func (b *builder) jump(block, target BlockID, state *FrameState) error {
	b.fn.pushInsn(block, Insn{Op: OpJump, Target: b.edge(target, state)})
	return b.enqueue(target, state, state.PC)
}

func (b *builder) blockAt(pc, target int) (BlockID, error) {
	id, ok := b.blocks[target]
	if !ok {
		return 0, malformed(pc, "branch to undiscovered offset %d", target)
	}
	return id, nil
}

// translateBlock abstractly interprets bytecode from pc until the block
// ends in a jump or return, or runs into the next block.
func (b *builder) translateBlock(block BlockID, state *FrameState, pc int) error {
	fn := b.fn
	code := b.unit.Code
	start := pc

	for {
		if pc >= len(code) {
			return malformed(pc, "execution falls off the end of the code")
		}
		if target, ok := b.blocks[pc]; ok && pc != start {
			state.PC = pc
			return b.jump(block, target, state)
		}

		in, err := bytecode.Decode(code, pc)
		if err != nil {
			return malformed(pc, "%v", err)
		}
		state.PC = pc
		snap := fn.pushInsn(block, Insn{Op: OpSnapshot, State: state.Clone()})

		done, err := b.translate(block, state, in, snap)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		pc = in.Next
	}
}

func (b *builder) push(block BlockID, state *FrameState, in Insn) InsnID {
	id := b.fn.pushInsn(block, in)
	state.push(id)
	return id
}

func constInsn(lit bytecode.Literal) Insn {
	return Insn{Op: OpConst, Val: lit}
}

// translate lowers one instruction. It reports true when the block has
// been terminated.
func (b *builder) translate(block BlockID, state *FrameState, in bytecode.Instruction, snap InsnID) (bool, error) {
	fn := b.fn
	u := b.unit

	switch in.Op {
	case bytecode.OpNOP:

	case bytecode.OpPOP:
		if _, err := state.pop(); err != nil {
			return false, err
		}

	case bytecode.OpDUP:
		top, err := state.top()
		if err != nil {
			return false, err
		}
		state.push(top)

	case bytecode.OpSWAP:
		a, err := state.pop()
		if err != nil {
			return false, err
		}
		c, err := state.pop()
		if err != nil {
			return false, err
		}
		state.push(a)
		state.push(c)

	case bytecode.OpSETN:
		top, err := state.top()
		if err != nil {
			return false, err
		}
		if err := state.setN(int(in.A), top); err != nil {
			return false, err
		}

	case bytecode.OpPushNil:
		b.push(block, state, constInsn(bytecode.Literal{Kind: bytecode.LitNil}))
	case bytecode.OpPushTrue:
		b.push(block, state, constInsn(bytecode.Literal{Kind: bytecode.LitTrue}))
	case bytecode.OpPushFalse:
		b.push(block, state, constInsn(bytecode.Literal{Kind: bytecode.LitFalse}))
	case bytecode.OpPushInt8, bytecode.OpPushInt32:
		b.push(block, state, constInsn(bytecode.Literal{Kind: bytecode.LitInt, Int: in.A}))
	case bytecode.OpPushFloat:
		b.push(block, state, constInsn(bytecode.Literal{Kind: bytecode.LitFloat, Float: in.Float()}))
	case bytecode.OpPushSelf:
		b.push(block, state, Insn{Op: OpPutSelf})

	case bytecode.OpPushLiteral:
		lit, err := u.Literal(int(in.A))
		if err != nil {
			return false, malformed(in.PC, "%v", err)
		}
		b.push(block, state, constInsn(lit))

	case bytecode.OpPushString:
		lit, err := b.literalOfKind(in, bytecode.LitString)
		if err != nil {
			return false, err
		}
		val := fn.pushInsn(block, constInsn(lit))
		b.push(block, state, Insn{Op: OpStringCopy, Args: []InsnID{val}})

	case bytecode.OpDupArray:
		lit, err := b.literalOfKind(in, bytecode.LitArray)
		if err != nil {
			return false, err
		}
		val := fn.pushInsn(block, constInsn(lit))
		b.push(block, state, Insn{Op: OpArrayDup, Args: []InsnID{val}})

	case bytecode.OpIntern:
		str, err := state.pop()
		if err != nil {
			return false, err
		}
		b.push(block, state, Insn{Op: OpStringIntern, Args: []InsnID{str}})

	case bytecode.OpCreateArray:
		n := int(in.A)
		arr := fn.pushInsn(block, Insn{Op: OpNewArray, Index: n})
		for i := n - 1; i >= 0; i-- {
			v, err := state.pop()
			if err != nil {
				return false, err
			}
			fn.pushInsn(block, Insn{Op: OpArraySet, Index: i, Args: []InsnID{arr, v}})
		}
		state.push(arr)

	case bytecode.OpPushTemp:
		idx, err := u.LocalIndex(int(in.A))
		if err != nil {
			return false, malformed(in.PC, "%v", err)
		}
		state.push(state.Locals[idx])

	case bytecode.OpStoreTemp:
		idx, err := u.LocalIndex(int(in.A))
		if err != nil {
			return false, malformed(in.PC, "%v", err)
		}
		top, err := state.top()
		if err != nil {
			return false, err
		}
		state.Locals[idx] = top

	case bytecode.OpSend:
		sel, err := u.Selector(int(in.A))
		if err != nil {
			return false, malformed(in.PC, "%v", err)
		}
		if err := b.send(block, state, sel, int(in.B)); err != nil {
			return false, err
		}

	case bytecode.OpCallPrimitive:
		name, err := u.Primitive(int(in.A))
		if err != nil {
			return false, malformed(in.PC, "%v", err)
		}
		args, err := state.popN(int(in.B))
		if err != nil {
			return false, err
		}
		b.push(block, state, Insn{Op: OpCCall, Call: &CallInfo{Name: name}, Args: args})

	case bytecode.OpJump:
		target, err := b.blockAt(in.PC, in.Target())
		if err != nil {
			return false, err
		}
		return true, b.jump(block, target, state)

	case bytecode.OpJumpTrue, bytecode.OpJumpFalse, bytecode.OpJumpNil, bytecode.OpJumpNotNil:
		target, err := b.blockAt(in.PC, in.Target())
		if err != nil {
			return false, err
		}
		cond, err := state.pop()
		if err != nil {
			return false, err
		}
		op := OpIfTrue
		switch in.Op {
		case bytecode.OpJumpFalse, bytecode.OpJumpNotNil:
			op = OpIfFalse
		}
		if in.Op == bytecode.OpJumpNil || in.Op == bytecode.OpJumpNotNil {
			cond = fn.pushInsn(block, Insn{Op: OpSend, Call: &CallInfo{Name: "isNil"}, Args: []InsnID{cond}})
		}
		test := fn.pushInsn(block, Insn{Op: OpTest, Args: []InsnID{cond}})
		fn.pushInsn(block, Insn{Op: op, Args: []InsnID{test}, Target: b.edge(target, state)})
		return false, b.enqueue(target, state, in.PC)

	case bytecode.OpReturnTop:
		v, err := state.pop()
		if err != nil {
			return false, err
		}
		fn.pushInsn(block, Insn{Op: OpReturn, Args: []InsnID{v}})
		return true, nil

	case bytecode.OpReturnSelf:
		self := fn.pushInsn(block, Insn{Op: OpPutSelf})
		fn.pushInsn(block, Insn{Op: OpReturn, Args: []InsnID{self}})
		return true, nil

	case bytecode.OpReturnNil:
		nilv := fn.pushInsn(block, constInsn(bytecode.Literal{Kind: bytecode.LitNil}))
		fn.pushInsn(block, Insn{Op: OpReturn, Args: []InsnID{nilv}})
		return true, nil

	default:
		qs, ok := quickSends[in.Op]
		if !ok {
			return false, &UnknownOpcodeError{Name: in.Op.Name(), PC: in.PC}
		}
		if qs.fast {
			if kind, ok := b.speculable(in.PC); ok {
				return false, b.fastBinary(block, state, qs.binop, kind, snap)
			}
		}
		if err := b.send(block, state, qs.selector, qs.argc); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (b *builder) literalOfKind(in bytecode.Instruction, kind bytecode.LiteralKind) (bytecode.Literal, error) {
	lit, err := b.unit.Literal(int(in.A))
	if err != nil {
		return lit, malformed(in.PC, "%v", err)
	}
	if lit.Kind != kind {
		return lit, malformed(in.PC, "%s needs a %s literal, literal %d is %s", in.Op, kind, in.A, lit.Kind)
	}
	return lit, nil
}

// send pops argc arguments and then the receiver, and pushes a dynamic
// dispatch. Arguments are popped last-first and restored to call order.
func (b *builder) send(block BlockID, state *FrameState, selector string, argc int) error {
	if len(state.Stack) < argc+1 {
		return &StackUnderflowError{State: state.Clone()}
	}
	args, err := state.popN(argc)
	if err != nil {
		return err
	}
	recv, err := state.pop()
	if err != nil {
		return err
	}
	b.push(block, state, Insn{
		Op:   OpSend,
		Call: &CallInfo{Name: selector},
		Args: append([]InsnID{recv}, args...),
	})
	return nil
}

// speculable reports the numeric kind both operands at pc had on every
// profiled sample.
func (b *builder) speculable(pc int) (profile.Kind, bool) {
	if b.profile == nil {
		return profile.KindUnknown, false
	}
	ot, ok := b.profile.OperandTypes(pc)
	if !ok || len(ot.Kinds) != 2 || ot.Kinds[0] != ot.Kinds[1] || !ot.Kinds[0].IsNumeric() {
		return profile.KindUnknown, false
	}
	return ot.Kinds[0], true
}

// fastBinary emits PatchPoint, GuardType left, GuardType right and the
// specialized operation on the guarded values.
func (b *builder) fastBinary(block BlockID, state *FrameState, op BinOp, kind profile.Kind, snap InsnID) error {
	operands, err := state.popN(2)
	if err != nil {
		return err
	}
	left, right := operands[0], operands[1]
	fn := b.fn
	fn.pushInsn(block, Insn{Op: OpPatchPoint, Invariant: &Invariant{Kind: BOPRedefined, Type: kind, Operator: op}})
	gl := fn.pushInsn(block, Insn{Op: OpGuardType, Args: []InsnID{left}, Type: kind, Snap: snap})
	gr := fn.pushInsn(block, Insn{Op: OpGuardType, Args: []InsnID{right}, Type: kind, Snap: snap})
	b.push(block, state, Insn{Op: OpNumeric, Operator: op, Type: kind, Args: []InsnID{gl, gr}})
	return nil
}
