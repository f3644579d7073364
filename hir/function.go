package hir

import "slices"

// Block is a basic block: formal parameters followed by a body whose last
// instruction is its single terminating transfer.
type Block struct {
	PC     int      `cbor:"1,keyasint"` // bytecode offset the block starts at; -1 for the entry
	Params []InsnID `cbor:"2,keyasint,omitempty"`
	Insns  []InsnID `cbor:"3,keyasint,omitempty"`
}

// Function is the HIR for one bytecode unit.
type Function struct {
	Name   string
	Insns  []Insn
	Blocks []Block
	Entry  BlockID

	unionFind *UnionFind[InsnID]
}

// NewFunction returns a function with an empty entry block.
func NewFunction(name string) *Function {
	f := &Function{Name: name, unionFind: NewUnionFind[InsnID]()}
	f.Entry = f.newBlock(-1)
	return f
}

func (f *Function) newBlock(pc int) BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, Block{PC: pc})
	return id
}

// pushInsn appends in to the instruction table and to block's body.
func (f *Function) pushInsn(block BlockID, in Insn) InsnID {
	id := f.appendInsn(in)
	f.Blocks[block].Insns = append(f.Blocks[block].Insns, id)
	return id
}

// pushParam appends a Param to the table and to block's parameter list.
func (f *Function) pushParam(block BlockID) InsnID {
	b := &f.Blocks[block]
	id := f.appendInsn(Insn{Op: OpParam, Index: len(b.Params)})
	b.Params = append(b.Params, id)
	return id
}

func (f *Function) appendInsn(in Insn) InsnID {
	if in.Op != OpGuardType {
		in.Snap = NoInsn
	}
	id := InsnID(len(f.Insns))
	f.Insns = append(f.Insns, in)
	return id
}

// NumInsns returns the size of the instruction table.
func (f *Function) NumInsns() int { return len(f.Insns) }

// NumBlocks returns the size of the block table.
func (f *Function) NumBlocks() int { return len(f.Blocks) }

// Insn returns the raw instruction stored under id, without resolving it
// or its operands.
func (f *Function) Insn(id InsnID) Insn {
	return f.Insns[id]
}

// Resolve returns the current representative of id.
func (f *Function) Resolve(id InsnID) InsnID {
	return f.unionFind.Find(id)
}

// Find returns a copy of the instruction id currently stands for, with
// every operand resolved to its representative. Use it for pattern
// matching over instructions in a way that is safe against earlier
// rewrites:
//
//	in := fn.Find(id)
//	if in.Op == hir.OpIfTrue && isTruthy(in.Args[0]) {
//		fn.MakeEqualTo(id, block, hir.Insn{Op: hir.OpJump, Target: in.Target})
//	}
func (f *Function) Find(id InsnID) Insn {
	rep := f.unionFind.Find(id)
	return f.Insns[rep].mapOperands(f.unionFind.Find)
}

// MakeEqualTo appends replacement to the instruction table and makes it
// the value of id. In block the replacement is placed right after id, or
// at the end if id is not in block. The original instruction stays in the
// table; every later Find of id, or of anything already forwarded to id,
// yields the replacement.
func (f *Function) MakeEqualTo(id InsnID, block BlockID, replacement Insn) InsnID {
	repl := f.appendInsn(replacement)
	b := &f.Blocks[block]
	pos := slices.Index(b.Insns, id)
	if pos < 0 {
		b.Insns = append(b.Insns, repl)
	} else {
		b.Insns = slices.Insert(b.Insns, pos+1, repl)
	}
	f.unionFind.MakeEqualTo(id, repl)
	return repl
}

// UnionFind exposes the forwarding table for passes that merge values
// without appending a replacement.
func (f *Function) UnionFind() *UnionFind[InsnID] {
	return f.unionFind
}

// Successors returns the targets of every edge leaving block, in
// instruction order.
func (f *Function) Successors(block BlockID) []BlockID {
	var out []BlockID
	for _, id := range f.Blocks[block].Insns {
		if in := f.Insns[id]; in.Target != nil {
			out = append(out, in.Target.Target)
		}
	}
	return out
}
