package hir

import (
	"errors"
	"fmt"
)

// ErrMalformedUnit is returned when a unit breaks the bytecode contract:
// code that falls off its end, truncated operands, branch targets between
// instruction boundaries, out-of-range table or local indices, or merge
// points reached with different stack depths.
var ErrMalformedUnit = errors.New("malformed bytecode unit")

// StackUnderflowError reports a pop from an empty abstract stack.
type StackUnderflowError struct {
	State *FrameState
}

func (e *StackUnderflowError) Error() string {
	return fmt.Sprintf("stack underflow at pc %d: %s", e.State.PC, e.State)
}

// UnknownOpcodeError reports an opcode with no lowering.
type UnknownOpcodeError struct {
	Name string
	PC   int
}

func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode %s at pc %d", e.Name, e.PC)
}

func malformed(pc int, format string, args ...any) error {
	return fmt.Errorf("%w: pc %d: %s", ErrMalformedUnit, pc, fmt.Sprintf(format, args...))
}
