// Package hir is the high-level SSA intermediate representation the JIT
// builds from a bytecode unit.
//
// A Function owns three append-only tables: instructions, blocks, and a
// union-find forwarding table. Ids index those tables densely from zero and
// are never renumbered. Optimization passes replace a value by forwarding
// its id rather than by editing its uses, so any code that inspects an
// operand must resolve it through the union-find first (see Function.Find).
//
// Blocks take parameters instead of phi nodes: every control edge passes
// the complete interpreter state (locals, then operand stack) to its
// target.
package hir

import "fmt"

// InsnID identifies an instruction within a Function.
type InsnID int

// BlockID identifies a basic block within a Function.
type BlockID int

// NoInsn marks an absent instruction reference.
const NoInsn InsnID = -1

func (id InsnID) String() string { return fmt.Sprintf("v%d", int(id)) }
func (id BlockID) String() string { return fmt.Sprintf("bb%d", int(id)) }
