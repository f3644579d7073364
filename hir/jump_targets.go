package hir

import (
	"sort"

	"github.com/chazu/mjit/bytecode"
)

// ComputeJumpTargets scans u once and returns the sorted, deduplicated
// offsets at which a block must start: every branch destination, the
// fall-through offset after each conditional branch, and the offset after
// each return. The last kind has no predecessor of its own but is kept as
// a potential merge point. Offsets at the very end of the code are
// dropped.
//
// Every returned offset is an instruction boundary; a branch into the
// middle of an instruction or outside the code is ErrMalformedUnit.
func ComputeJumpTargets(u *bytecode.Unit) ([]int, error) {
	code := u.Code
	boundaries := make(map[int]bool)
	seen := make(map[int]bool)

	add := func(off int) {
		if off < len(code) {
			seen[off] = true
		}
	}

	r := bytecode.NewBytecodeReader(code)
	for r.HasMore() {
		pc := r.Position()
		boundaries[pc] = true
		in, err := r.Next()
		if err != nil {
			return nil, malformed(pc, "%v", err)
		}

		switch {
		case in.Op.IsBranch():
			target := in.Target()
			if target < 0 || target >= len(code) {
				return nil, malformed(pc, "%s target %d outside code of %d bytes", in.Op, target, len(code))
			}
			seen[target] = true
			if in.Op.IsConditionalBranch() {
				add(in.Next)
			}
		case in.Op.IsReturn():
			add(in.Next)
		}
	}

	targets := make([]int, 0, len(seen))
	for off := range seen {
		targets = append(targets, off)
	}
	sort.Ints(targets)
	for _, off := range targets {
		if !boundaries[off] {
			return nil, malformed(off, "branch target is not an instruction boundary")
		}
	}
	return targets, nil
}
