package hir

import (
	"errors"
	"fmt"
)

// ErrInvalidFunction wraps every structural problem Validate finds.
var ErrInvalidFunction = errors.New("invalid function")

// Validate checks the structural invariants of f:
//
//   - every instruction id belongs to exactly one block, as a parameter or
//     in the body
//   - every operand, after resolution, names an instruction in the table
//   - every instruction carries the operands, call info, invariant or
//     frame state its opcode reads
//   - every non-empty block ends in exactly one Jump or Return, ignoring
//     instructions that have been replaced
//   - every edge targets an existing block and passes one argument per
//     target parameter
//
// Blocks that were allocated for a discovered offset but never reached
// are empty and accepted.
func (f *Function) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidFunction, fmt.Sprintf(format, args...)))
	}

	n := len(f.Insns)
	if int(f.Entry) < 0 || int(f.Entry) >= len(f.Blocks) {
		fail("entry %s outside %d blocks", f.Entry, len(f.Blocks))
		return errors.Join(errs...)
	}

	owner := make([]BlockID, n)
	for i := range owner {
		owner[i] = -1
	}
	claim := func(b BlockID, id InsnID) {
		if int(id) < 0 || int(id) >= n {
			fail("%s lists %s outside %d instructions", b, id, n)
			return
		}
		if owner[id] >= 0 {
			fail("%s listed in both %s and %s", id, owner[id], b)
			return
		}
		owner[id] = b
	}

	for i, block := range f.Blocks {
		b := BlockID(i)
		for _, id := range block.Params {
			claim(b, id)
			if int(id) < n && id >= 0 && f.Insns[id].Op != OpParam {
				fail("%s parameter %s is a %s", b, id, f.Insns[id].Op)
			}
		}
		for pos, id := range block.Insns {
			claim(b, id)
			if int(id) >= n || id < 0 {
				continue
			}
			in := f.Insns[id]
			f.validateShape(id, in, fail)
			if f.unionFind.FindConst(id) != id {
				// Replaced; its replacement follows it in the block.
				continue
			}
			last := pos == len(block.Insns)-1
			if in.Op.IsTerminator() && !last {
				fail("%s: %s terminates %s before its end", id, in.Op, b)
			}
			if last && !in.Op.IsTerminator() {
				fail("%s ends in %s, not a jump or return", b, in.Op)
			}
			f.validateOperands(id, fail)
		}
	}

	for id, b := range owner {
		if b < 0 {
			fail("%s belongs to no block", InsnID(id))
		}
	}
	return errors.Join(errs...)
}

// minArgs is the number of Args an instruction reads at minimum.
var minArgs = map[Op]int{
	OpStringCopy:   1,
	OpStringIntern: 1,
	OpArraySet:     2,
	OpArrayDup:     1,
	OpTest:         1,
	OpIfTrue:       1,
	OpIfFalse:      1,
	OpSend:         1,
	OpReturn:       1,
	OpNumeric:      2,
	OpGuardType:    1,
}

func (f *Function) validateShape(id InsnID, in Insn, fail func(string, ...any)) {
	if want := minArgs[in.Op]; len(in.Args) < want {
		fail("%s: %s takes at least %d operands, has %d", id, in.Op, want, len(in.Args))
	}
	switch in.Op {
	case OpSend, OpCCall:
		if in.Call == nil {
			fail("%s: %s without call info", id, in.Op)
		}
	case OpPatchPoint:
		if in.Invariant == nil {
			fail("%s: patch point without an invariant", id)
		}
	case OpSnapshot:
		if in.State == nil {
			fail("%s: snapshot without a frame state", id)
		}
	}
}

func (f *Function) validateOperands(id InsnID, fail func(string, ...any)) {
	n := len(f.Insns)
	in := f.Insns[id]
	for _, op := range in.Operands() {
		if op < 0 || int(op) >= n {
			fail("%s reads %s outside %d instructions", id, op, n)
			continue
		}
		if rep := f.unionFind.FindConst(op); int(rep) >= n {
			fail("%s reads %s which resolves to missing %s", id, op, rep)
		}
	}
	if in.Op.IsBranch() {
		if in.Target == nil {
			fail("%s: %s without a target", id, in.Op)
			return
		}
		t := in.Target.Target
		if int(t) < 0 || int(t) >= len(f.Blocks) {
			fail("%s targets missing %s", id, t)
			return
		}
		if want := len(f.Blocks[t].Params); len(in.Target.Args) != want {
			fail("%s passes %d arguments to %s which takes %d", id, len(in.Target.Args), t, want)
		}
	}
	if in.Op == OpGuardType {
		if in.Snap < 0 || int(in.Snap) >= n || f.Insns[in.Snap].Op != OpSnapshot {
			fail("%s guard without a snapshot", id)
		}
	}
}
