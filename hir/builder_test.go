package hir

import (
	"errors"
	"testing"

	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ops returns the opcodes of a block body.
func ops(fn *Function, b BlockID) []Op {
	var out []Op
	for _, id := range fn.Blocks[b].Insns {
		out = append(out, fn.Insns[id].Op)
	}
	return out
}

// opsNoSnapshots is ops without Snapshot instructions.
func opsNoSnapshots(fn *Function, b BlockID) []Op {
	var out []Op
	for _, op := range ops(fn, b) {
		if op != OpSnapshot {
			out = append(out, op)
		}
	}
	return out
}

func build(t *testing.T, u *bytecode.Unit, prof TypeProfile) *Function {
	t.Helper()
	fn, err := FromUnit(u, prof)
	require.NoError(t, err)
	require.NoError(t, fn.Validate())
	return fn
}

func TestReturnLiteral(t *testing.T) {
	u := assemble(t, 0, 0, `
		push_int8 123
		return_top
	`)
	fn := build(t, u, nil)

	require.Equal(t, 1, fn.NumBlocks())
	assert.Equal(t, []Op{OpSnapshot, OpConst, OpSnapshot, OpReturn}, ops(fn, fn.Entry))

	body := fn.Blocks[fn.Entry].Insns
	c := fn.Insn(body[1])
	assert.Equal(t, bytecode.LitInt, c.Val.Kind)
	assert.Equal(t, int64(123), c.Val.Int)
	assert.Equal(t, []InsnID{body[1]}, fn.Insn(body[3]).Args)
}

func TestIfElseThreeBlocks(t *testing.T) {
	u := assemble(t, 1, 1, `
		push_temp 0
		jump_false else
		push_int8 3
		return_top
	else:
		push_int8 4
		return_top
	`)
	fn := build(t, u, nil)

	require.Equal(t, 3, fn.NumBlocks())
	assert.Equal(t, []Op{OpTest, OpIfFalse, OpJump}, opsNoSnapshots(fn, 0))
	assert.Equal(t, []Op{OpConst, OpReturn}, opsNoSnapshots(fn, 1))
	assert.Equal(t, []Op{OpConst, OpReturn}, opsNoSnapshots(fn, 2))

	// Each arm was visited exactly once: one Param per local, nothing more.
	assert.Len(t, fn.Blocks[1].Params, 1)
	assert.Len(t, fn.Blocks[2].Params, 1)

	entry := fn.Blocks[0].Insns
	ifFalse := fn.Insn(entry[len(entry)-2])
	assert.Equal(t, BlockID(2), ifFalse.Target.Target)
	assert.Equal(t, fn.Blocks[0].Params, ifFalse.Target.Args)
	jump := fn.Insn(entry[len(entry)-1])
	assert.Equal(t, BlockID(1), jump.Target.Target)

	three := fn.Insn(fn.Blocks[1].Insns[1])
	four := fn.Insn(fn.Blocks[2].Insns[1])
	assert.Equal(t, int64(3), three.Val.Int)
	assert.Equal(t, int64(4), four.Val.Int)
}

func TestLocalWriteThenRead(t *testing.T) {
	u := assemble(t, 0, 1, `
		push_int8 5
		store_temp 0
		pop
		push_temp 0
		return_top
	`)
	fn := build(t, u, nil)

	var constID InsnID = NoInsn
	for _, id := range fn.Blocks[fn.Entry].Insns {
		in := fn.Insn(id)
		if in.Op == OpConst && in.Val.Kind == bytecode.LitInt {
			constID = id
		}
	}
	require.NotEqual(t, NoInsn, constID)

	// nil placeholder, then Const 5, then Return: the read emits nothing.
	assert.Equal(t, []Op{OpConst, OpConst, OpReturn}, opsNoSnapshots(fn, fn.Entry))
	body := fn.Blocks[fn.Entry].Insns
	ret := fn.Insn(body[len(body)-1])
	assert.Equal(t, []InsnID{constID}, ret.Args)
}

func TestEntrySeeding(t *testing.T) {
	u := assemble(t, 2, 4, `
		push_temp 3
		return_top
	`)
	fn := build(t, u, nil)

	entry := fn.Blocks[fn.Entry]
	require.Len(t, entry.Params, 2)
	assert.Equal(t, OpParam, fn.Insn(entry.Params[0]).Op)
	assert.Equal(t, 1, fn.Insn(entry.Params[1]).Index)

	first := fn.Insn(entry.Insns[2])
	require.Equal(t, OpSnapshot, first.Op)
	require.Len(t, first.State.Locals, 4)
	assert.Equal(t, entry.Params, first.State.Locals[:2])
	for _, id := range first.State.Locals[2:] {
		assert.Equal(t, bytecode.LitNil, fn.Insn(id).Val.Kind)
	}
}

func TestSpeculativeArithmetic(t *testing.T) {
	src := `
		push_temp 0
		push_temp 1
	add:
		send_plus
		return_top
	`

	t.Run("with fixnum profile", func(t *testing.T) {
		u := assemble(t, 2, 2, src)
		prof := profile.NewTypeProfile()
		prof.ObserveN(u.Labels["add"], 50, profile.KindFixnum, profile.KindFixnum)

		fn := build(t, u, prof)
		body := opsNoSnapshots(fn, fn.Entry)
		assert.Equal(t, []Op{OpPatchPoint, OpGuardType, OpGuardType, OpNumeric, OpReturn}, body)

		var insns []Insn
		for _, id := range fn.Blocks[fn.Entry].Insns {
			if in := fn.Insn(id); in.Op != OpSnapshot {
				insns = append(insns, in)
			}
		}
		params := fn.Blocks[fn.Entry].Params
		assert.Equal(t, &Invariant{Kind: BOPRedefined, Type: profile.KindFixnum, Operator: BinAdd}, insns[0].Invariant)
		assert.Equal(t, []InsnID{params[0]}, insns[1].Args, "left operand guarded first")
		assert.Equal(t, []InsnID{params[1]}, insns[2].Args)
		assert.Equal(t, "FixnumAdd", insns[3].Name())
		assert.Equal(t, OpSnapshot, fn.Insn(insns[1].Snap).Op)
		assert.Equal(t, u.Labels["add"], fn.Insn(insns[1].Snap).State.PC)
	})

	t.Run("without profile", func(t *testing.T) {
		u := assemble(t, 2, 2, src)
		fn := build(t, u, nil)
		assert.Equal(t, []Op{OpSend, OpReturn}, opsNoSnapshots(fn, fn.Entry))
	})

	t.Run("with disagreeing profile", func(t *testing.T) {
		u := assemble(t, 2, 2, src)
		prof := profile.NewTypeProfile()
		prof.Observe(u.Labels["add"], profile.KindFixnum, profile.KindFixnum)
		prof.Observe(u.Labels["add"], profile.KindFloat, profile.KindFixnum)
		fn := build(t, u, prof)
		assert.Equal(t, []Op{OpSend, OpReturn}, opsNoSnapshots(fn, fn.Entry))
	})

	t.Run("with profile on another offset", func(t *testing.T) {
		u := assemble(t, 2, 2, src)
		prof := profile.NewTypeProfile()
		prof.Observe(0, profile.KindFixnum, profile.KindFixnum)
		fn := build(t, u, prof)
		assert.Equal(t, []Op{OpSend, OpReturn}, opsNoSnapshots(fn, fn.Entry))
	})
}

func TestSpeculationOnlyForFastOperators(t *testing.T) {
	tests := []struct {
		op   string
		kind profile.Kind
		fast bool
		name string
	}{
		{"send_plus", profile.KindFloat, true, "FloatAdd"},
		{"send_minus", profile.KindFixnum, true, "FixnumSub"},
		{"send_times", profile.KindFixnum, true, "FixnumMul"},
		{"send_lt", profile.KindFloat, true, "FloatLt"},
		{"send_le", profile.KindFixnum, true, "FixnumLe"},
		{"send_gt", profile.KindFixnum, true, "FixnumGt"},
		{"send_ge", profile.KindFloat, true, "FloatGe"},
		{"send_div", profile.KindFixnum, false, ""},
		{"send_mod", profile.KindFixnum, false, ""},
		{"send_eq", profile.KindFixnum, false, ""},
		{"send_ne", profile.KindFixnum, false, ""},
		{"send_plus", profile.KindString, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.op+"/"+tt.kind.String(), func(t *testing.T) {
			u := assemble(t, 2, 2, "push_temp 0\npush_temp 1\nop:\n"+tt.op+"\nreturn_top")
			prof := profile.NewTypeProfile()
			prof.Observe(u.Labels["op"], tt.kind, tt.kind)
			fn := build(t, u, prof)

			body := fn.Blocks[fn.Entry].Insns
			result := fn.Insn(fn.Insn(body[len(body)-1]).Args[0])
			if tt.fast {
				assert.Equal(t, OpNumeric, result.Op)
				assert.Equal(t, tt.name, result.Name())
			} else {
				assert.Equal(t, OpSend, result.Op)
			}
		})
	}
}

func TestSendArgumentOrder(t *testing.T) {
	u := assemble(t, 3, 3, `
		push_temp 0
		push_temp 1
		push_temp 2
		send at:put: 2
		return_top
	`)
	fn := build(t, u, nil)

	params := fn.Blocks[fn.Entry].Params
	body := fn.Blocks[fn.Entry].Insns
	send := fn.Insn(fn.Insn(body[len(body)-1]).Args[0])
	require.Equal(t, OpSend, send.Op)
	assert.Equal(t, "at:put:", send.Call.Name)
	assert.Equal(t, []InsnID{params[0], params[1], params[2]}, send.Args, "receiver, then arguments in call order")
}

func TestLowerings(t *testing.T) {
	tests := []struct {
		name     string
		literals []bytecode.Literal
		src      string
		want     []Op
	}{
		{
			name: "return self",
			src:  "return_self",
			want: []Op{OpPutSelf, OpReturn},
		},
		{
			name: "return nil",
			src:  "return_nil",
			want: []Op{OpConst, OpReturn},
		},
		{
			name:     "string copy",
			literals: []bytecode.Literal{{Kind: bytecode.LitString, Str: "hi"}},
			src:      "push_string 0\nreturn_top",
			want:     []Op{OpConst, OpStringCopy, OpReturn},
		},
		{
			name:     "intern",
			literals: []bytecode.Literal{{Kind: bytecode.LitString, Str: "hi"}},
			src:      "push_string 0\nintern\nreturn_top",
			want:     []Op{OpConst, OpStringCopy, OpStringIntern, OpReturn},
		},
		{
			name:     "array literal",
			literals: []bytecode.Literal{{Kind: bytecode.LitArray}},
			src:      "dup_array 0\nreturn_top",
			want:     []Op{OpConst, OpArrayDup, OpReturn},
		},
		{
			name: "create array",
			src:  "push_int8 1\npush_int8 2\ncreate_array 2\nreturn_top",
			want: []Op{OpConst, OpConst, OpNewArray, OpArraySet, OpArraySet, OpReturn},
		},
		{
			name: "primitive",
			src:  "push_int8 1\ncall_primitive print 1\nreturn_top",
			want: []Op{OpConst, OpCCall, OpReturn},
		},
		{
			name: "unary send",
			src:  "push_self\nsend_size\nreturn_top",
			want: []Op{OpPutSelf, OpSend, OpReturn},
		},
		{
			name: "stack shuffles emit nothing",
			src:  "push_int8 1\npush_int8 2\nswap\ndup\nsetn 2\npop\npop\nnop\nreturn_top",
			want: []Op{OpConst, OpConst, OpReturn},
		},
		{
			name: "jump if nil",
			src:  "push_self\njump_nil out\npush_int8 1\nreturn_top\nout:\nreturn_nil",
			want: []Op{OpPutSelf, OpSend, OpTest, OpIfTrue, OpJump},
		},
		{
			name: "jump if not nil",
			src:  "push_self\njump_not_nil out\npush_int8 1\nreturn_top\nout:\nreturn_nil",
			want: []Op{OpPutSelf, OpSend, OpTest, OpIfFalse, OpJump},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &bytecode.Unit{Name: tt.name, Literals: tt.literals}
			require.NoError(t, u.Assemble(tt.src))
			fn := build(t, u, nil)
			assert.Equal(t, tt.want, opsNoSnapshots(fn, fn.Entry))
		})
	}
}

func TestCreateArrayOrder(t *testing.T) {
	u := assemble(t, 2, 2, `
		push_temp 0
		push_temp 1
		create_array 2
		return_top
	`)
	fn := build(t, u, nil)
	params := fn.Blocks[fn.Entry].Params

	var sets []Insn
	for _, id := range fn.Blocks[fn.Entry].Insns {
		if in := fn.Insn(id); in.Op == OpArraySet {
			sets = append(sets, in)
		}
	}
	require.Len(t, sets, 2)
	assert.Equal(t, 1, sets[0].Index)
	assert.Equal(t, params[1], sets[0].Args[1])
	assert.Equal(t, 0, sets[1].Index)
	assert.Equal(t, params[0], sets[1].Args[1])
}

func TestLoopAtOffsetZero(t *testing.T) {
	u := assemble(t, 1, 1, `
	top:
		push_temp 0
		push_int8 1
		send_minus
		store_temp 0
		jump_true top
		return_nil
	`)
	fn := build(t, u, nil)

	// entry, loop header at 0, fall-through after the branch.
	require.Equal(t, 3, fn.NumBlocks())
	assert.Equal(t, []Op{OpJump}, ops(fn, fn.Entry))
	header := fn.Blocks[1]
	assert.Equal(t, 0, header.PC)
	assert.Len(t, header.Params, 1)

	body := opsNoSnapshots(fn, 1)
	assert.Equal(t, []Op{OpConst, OpSend, OpTest, OpIfTrue, OpJump}, body)

	// The back edge threads the updated local into the header.
	var backEdge Insn
	for _, id := range header.Insns {
		if in := fn.Insn(id); in.Op == OpIfTrue {
			backEdge = in
		}
	}
	require.NotNil(t, backEdge.Target)
	assert.Equal(t, BlockID(1), backEdge.Target.Target)
	require.Len(t, backEdge.Target.Args, 1)
	assert.Equal(t, OpSend, fn.Insn(backEdge.Target.Args[0]).Op)
}

func TestMergeThreadsStack(t *testing.T) {
	u := assemble(t, 1, 1, `
		push_self
		push_temp 0
		jump_false other
		push_int8 1
		jump join
	other:
		push_int8 2
	join:
		send + 1
		return_top
	`)
	fn := build(t, u, nil)
	require.NoError(t, fn.Validate())

	join := BlockID(-1)
	for i, b := range fn.Blocks {
		if b.PC == u.Labels["join"] {
			join = BlockID(i)
		}
	}
	require.NotEqual(t, BlockID(-1), join)
	// one local plus two stack slots
	assert.Len(t, fn.Blocks[join].Params, 3)
}

func TestStackDiscipline(t *testing.T) {
	u := assemble(t, 2, 3, `
		push_temp 0
		dup
		push_temp 1
		swap
		send_plus
		store_temp 2
		push_int8 7
		push_int32 70000
		push_float 1.5
		create_array 3
		push_self
		send_class
		call_primitive log 2
		setn 1
		pop
		push_nil
		push_true
		push_false
		send at:put: 2
		send_size
		pop
		return_top
	`)
	fn := build(t, u, nil)

	// Consecutive snapshots differ by the stack effect of the instruction
	// between them.
	var snaps []*FrameState
	for _, id := range fn.Blocks[fn.Entry].Insns {
		if in := fn.Insn(id); in.Op == OpSnapshot {
			snaps = append(snaps, in.State)
		}
	}
	for i := 0; i+1 < len(snaps); i++ {
		in, err := bytecode.Decode(u.Code, snaps[i].PC)
		require.NoError(t, err)
		assert.Equal(t, len(snaps[i].Stack)+in.StackEffect(), len(snaps[i+1].Stack), "after %s at %d", in.Op, in.PC)
	}
}

func TestStackDisciplineAcrossBlocks(t *testing.T) {
	u := &bytecode.Unit{
		Name:      t.Name(),
		NumParams: 1,
		NumLocals: 2,
		Literals: []bytecode.Literal{
			{Kind: bytecode.LitInt, Int: 5},
			{Kind: bytecode.LitString, Str: "s"},
			{Kind: bytecode.LitArray, Elems: []bytecode.Literal{{Kind: bytecode.LitInt, Int: 1}}},
		},
	}
	require.NoError(t, u.Assemble(`
		push_literal 0
		push_string 1
		intern
		dup_array 2
		send_at
		send_minus
		push_temp 0
		jump_true a
		push_int8 2
		send_times
		jump b
	a:
		push_int8 3
		send_div
	b:
		push_nil
		jump_nil c
		push_temp 0
		jump_not_nil c
		push_int8 1
		send_mod
	c:
		push_int8 1
		jump_false d
		push_int8 4
		send_lt
		push_int8 4
		send_gt
		push_int8 4
		send_le
		push_int8 4
		send_ge
		push_int8 4
		send_eq
		push_int8 4
		send_ne
	d:
		push_self
		send_value
		push_nil
		send_value1
		push_nil
		push_nil
		send_value2
		send_new
		pop
		dup
		push_nil
		send_at_put
		return_top
	`))
	fn := build(t, u, nil)

	snaps := map[int]*FrameState{}
	for _, in := range fn.Insns {
		if in.Op == OpSnapshot {
			require.NotContains(t, snaps, in.State.PC, "offset translated twice")
			snaps[in.State.PC] = in.State
		}
	}

	seen := map[bytecode.Opcode]bool{}
	for pc, before := range snaps {
		in, err := bytecode.Decode(u.Code, pc)
		require.NoError(t, err)
		seen[in.Op] = true
		want := len(before.Stack) + in.StackEffect()

		if in.Op.IsBranch() {
			target, ok := snaps[in.Target()]
			require.True(t, ok, "%s at %d: target not translated", in.Op, pc)
			assert.Equal(t, want, len(target.Stack), "%s at %d: taken edge", in.Op, pc)
		}
		if in.Op == bytecode.OpJump || in.Op.IsReturn() {
			continue
		}
		after, ok := snaps[in.Next]
		require.True(t, ok, "%s at %d: fall-through not translated", in.Op, pc)
		assert.Equal(t, want, len(after.Stack), "after %s at %d", in.Op, pc)
	}

	for _, op := range []bytecode.Opcode{
		bytecode.OpPushLiteral, bytecode.OpPushString, bytecode.OpIntern, bytecode.OpDupArray,
		bytecode.OpJump, bytecode.OpJumpTrue, bytecode.OpJumpFalse, bytecode.OpJumpNil, bytecode.OpJumpNotNil,
		bytecode.OpSendMinus, bytecode.OpSendTimes, bytecode.OpSendDiv, bytecode.OpSendMod,
		bytecode.OpSendLT, bytecode.OpSendGT, bytecode.OpSendLE, bytecode.OpSendGE,
		bytecode.OpSendEQ, bytecode.OpSendNE, bytecode.OpSendAt, bytecode.OpSendAtPut,
		bytecode.OpSendValue, bytecode.OpSendValue1, bytecode.OpSendValue2, bytecode.OpSendNew,
	} {
		assert.True(t, seen[op], "%s not covered", op)
	}
}

func TestDeterminism(t *testing.T) {
	src := `
		push_temp 0
		jump_false b
		push_temp 0
		push_temp 1
		send_lt
		jump_true a
		push_int8 1
		return_top
	a:
		push_int8 2
		return_top
	b:
		push_temp 1
		store_temp 0
		pop
		jump a
	`
	u := assemble(t, 2, 2, src)
	prof := profile.NewTypeProfile()
	prof.Observe(9, profile.KindFixnum, profile.KindFixnum)

	first := build(t, u, prof)
	second := build(t, u, prof)
	assert.Equal(t, first.Dump(DumpAll), second.Dump(DumpAll))
	assert.Equal(t, first.Insns, second.Insns)
	assert.Equal(t, first.Blocks, second.Blocks)
}

func TestBuilderErrors(t *testing.T) {
	t.Run("stack underflow", func(t *testing.T) {
		u := assemble(t, 0, 0, "pop\nreturn_nil")
		_, err := FromUnit(u, nil)
		var under *StackUnderflowError
		require.True(t, errors.As(err, &under))
		assert.Equal(t, 0, under.State.PC)
		assert.Empty(t, under.State.Stack)
	})

	t.Run("underflow in send", func(t *testing.T) {
		u := assemble(t, 0, 0, "push_self\nsend foo: 1\nreturn_top")
		_, err := FromUnit(u, nil)
		var under *StackUnderflowError
		assert.True(t, errors.As(err, &under))
	})

	t.Run("underflow reports the frame before the send", func(t *testing.T) {
		u := assemble(t, 0, 0, "push_self\nsend at:put: 2\nreturn_top")
		_, err := FromUnit(u, nil)
		var under *StackUnderflowError
		require.True(t, errors.As(err, &under))
		assert.Equal(t, 1, under.State.PC)
		assert.Len(t, under.State.Stack, 1)
	})

	t.Run("underflow in primitive call", func(t *testing.T) {
		u := assemble(t, 0, 0, "push_nil\ncall_primitive log 3\nreturn_top")
		_, err := FromUnit(u, nil)
		var under *StackUnderflowError
		require.True(t, errors.As(err, &under))
		assert.Len(t, under.State.Stack, 1)
	})

	t.Run("unknown opcode", func(t *testing.T) {
		u := assemble(t, 0, 0, "push_int8 1\npush_ivar 0\nreturn_top")
		_, err := FromUnit(u, nil)
		var unknown *UnknownOpcodeError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, "PUSH_IVAR", unknown.Name)
		assert.Equal(t, 2, unknown.PC)
	})

	tests := []struct {
		name   string
		params int
		locals int
		src    string
	}{
		{"falls off the end", 0, 0, "push_nil"},
		{"bad local slot", 0, 0, ""},
		{"missing literal", 0, 0, "push_literal 4\nreturn_top"},
		{"missing selector", 0, 0, ""},
		{"wrong literal kind", 0, 0, "push_string 0\nreturn_top"},
		{"inconsistent merge depth", 1, 1, "push_temp 0\njump_false x\npush_nil\nx:\nreturn_nil"},
		{"more params than locals", 2, 1, "return_nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &bytecode.Unit{NumParams: tt.params, NumLocals: tt.locals, Literals: []bytecode.Literal{{Kind: bytecode.LitInt}}}
			if tt.name == "bad local slot" {
				u.Code = []byte{byte(bytecode.OpPushTemp), 9, byte(bytecode.OpReturnTop)}
			} else if tt.name == "missing selector" {
				u.Code = []byte{byte(bytecode.OpPushSelf), byte(bytecode.OpSend), 3, 0, 0, byte(bytecode.OpReturnTop)}
			} else {
				require.NoError(t, u.Assemble(tt.src))
			}
			fn, err := FromUnit(u, nil)
			assert.Nil(t, fn)
			assert.ErrorIs(t, err, ErrMalformedUnit)
		})
	}
}

func TestFindAndMakeEqualTo(t *testing.T) {
	u := assemble(t, 1, 1, `
		push_temp 0
		push_int8 2
		send_times
		return_top
	`)
	fn := build(t, u, nil)
	entry := fn.Entry

	var sendID InsnID = NoInsn
	for _, id := range fn.Blocks[entry].Insns {
		if fn.Insn(id).Op == OpSend {
			sendID = id
		}
	}
	require.NotEqual(t, NoInsn, sendID)

	// Replace the multiply by a constant and check the return now reads it.
	repl := fn.MakeEqualTo(sendID, entry, Insn{Op: OpConst, Val: bytecode.Literal{Kind: bytecode.LitInt, Int: 42}})
	assert.Equal(t, fn.NumInsns()-1, int(repl))
	assert.Equal(t, OpConst, fn.Find(sendID).Op)
	assert.Equal(t, OpSend, fn.Insn(sendID).Op, "the original stays in the table")

	body := fn.Blocks[entry].Insns
	ret := fn.Find(body[len(body)-1])
	require.Equal(t, OpReturn, ret.Op)
	assert.Equal(t, []InsnID{repl}, ret.Args)
	// Raw storage is untouched.
	assert.Equal(t, []InsnID{sendID}, fn.Insn(body[len(body)-1]).Args)

	require.NoError(t, fn.Validate())
	assert.Contains(t, fn.String(), "replaced by "+repl.String())
}
