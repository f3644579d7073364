package hir

import (
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// DumpLevel selects how much of a Function a dump shows.
type DumpLevel int

const (
	DumpNone            DumpLevel = iota
	DumpWithoutSnapshot           // instructions, snapshots omitted
	DumpAll                       // instructions and snapshots
	DumpRaw                       // structural dump of the tables
)

var dumpLevelNames = map[string]DumpLevel{
	"none": DumpNone,
	"hir":  DumpWithoutSnapshot,
	"all":  DumpAll,
	"raw":  DumpRaw,
}

func (l DumpLevel) String() string {
	for name, lvl := range dumpLevelNames {
		if lvl == l {
			return name
		}
	}
	return fmt.Sprintf("DumpLevel(%d)", int(l))
}

// ParseDumpLevel accepts none, hir, all and raw.
func ParseDumpLevel(s string) (DumpLevel, error) {
	if lvl, ok := dumpLevelNames[strings.ToLower(s)]; ok {
		return lvl, nil
	}
	return DumpNone, fmt.Errorf("unknown dump level %q (want none, hir, all or raw)", s)
}

var rawConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Dump renders the function at the given level. Operands are shown
// resolved through the union-find; the function is not modified.
func (f *Function) Dump(level DumpLevel) string {
	switch level {
	case DumpNone:
		return ""
	case DumpRaw:
		return rawConfig.Sdump(f.Name, f.Entry, f.Blocks, f.Insns, f.forwarding())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "fn %s:\n", f.Name)
	for i, block := range f.Blocks {
		fmt.Fprintf(&sb, "%s(%s):\n", BlockID(i), joinIDs(block.Params))
		for _, id := range block.Insns {
			if level == DumpWithoutSnapshot && f.Insns[id].Op == OpSnapshot {
				continue
			}
			sb.WriteString("  ")
			sb.WriteString(f.formatInsn(id))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// String renders the function without snapshots.
func (f *Function) String() string {
	return f.Dump(DumpWithoutSnapshot)
}

func (f *Function) formatInsn(id InsnID) string {
	in := f.Insns[id].mapOperands(f.unionFind.FindConst)
	var sb strings.Builder
	if in.Op.HasOutput() {
		fmt.Fprintf(&sb, "%s = ", id)
	}
	sb.WriteString(in.Name())

	switch in.Op {
	case OpConst:
		fmt.Fprintf(&sb, " %s", in.Val)
	case OpParam, OpNewArray:
		fmt.Fprintf(&sb, " %d", in.Index)
	case OpArraySet:
		fmt.Fprintf(&sb, " %s, %d, %s", in.Args[0], in.Index, in.Args[1])
	case OpSend:
		fmt.Fprintf(&sb, " %s, :%s", in.Args[0], in.Call.Name)
		for _, a := range in.Args[1:] {
			fmt.Fprintf(&sb, ", %s", a)
		}
	case OpCCall:
		fmt.Fprintf(&sb, " %s(%s)", in.Call.Name, joinIDs(in.Args))
	case OpJump:
		fmt.Fprintf(&sb, " %s", in.Target)
	case OpIfTrue, OpIfFalse:
		fmt.Fprintf(&sb, " %s, %s", in.Args[0], in.Target)
	case OpGuardType:
		fmt.Fprintf(&sb, " %s, %s", in.Args[0], in.Type.Title())
	case OpPatchPoint:
		fmt.Fprintf(&sb, " %s", in.Invariant)
	case OpSnapshot:
		fmt.Fprintf(&sb, " %s", in.State)
	default:
		if len(in.Args) > 0 {
			fmt.Fprintf(&sb, " %s", joinIDs(in.Args))
		}
	}
	if rep := f.unionFind.FindConst(id); rep != id {
		fmt.Fprintf(&sb, " ; replaced by %s", rep)
	}
	return sb.String()
}

// forwarding lists every id that forwards elsewhere, as [id, target] pairs.
func (f *Function) forwarding() [][2]InsnID {
	var out [][2]InsnID
	for i := 0; i < f.unionFind.Len(); i++ {
		if to, ok := f.unionFind.Forwarded(InsnID(i)); ok {
			out = append(out, [2]InsnID{InsnID(i), to})
		}
	}
	return out
}
