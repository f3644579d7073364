package hir

import (
	"fmt"
	"slices"
)

// FrameState is the abstract interpreter state at one bytecode offset: the
// operand stack and the locals, each slot naming the instruction that
// produced its value. A Snapshot owns a copy so guards can rebuild an
// interpreter frame when their assumption fails.
type FrameState struct {
	PC     int      `cbor:"1,keyasint"`
	Stack  []InsnID `cbor:"2,keyasint,omitempty"`
	Locals []InsnID `cbor:"3,keyasint,omitempty"`
}

func (fs *FrameState) push(id InsnID) {
	fs.Stack = append(fs.Stack, id)
}

func (fs *FrameState) top() (InsnID, error) {
	if len(fs.Stack) == 0 {
		return NoInsn, &StackUnderflowError{State: fs.Clone()}
	}
	return fs.Stack[len(fs.Stack)-1], nil
}

func (fs *FrameState) pop() (InsnID, error) {
	id, err := fs.top()
	if err != nil {
		return NoInsn, err
	}
	fs.Stack = fs.Stack[:len(fs.Stack)-1]
	return id, nil
}

// popN pops n values and returns them in push order. On underflow the
// stack is left untouched.
func (fs *FrameState) popN(n int) ([]InsnID, error) {
	if len(fs.Stack) < n {
		return nil, &StackUnderflowError{State: fs.Clone()}
	}
	out := make([]InsnID, n)
	for i := 0; i < n; i++ {
		id, err := fs.pop()
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	slices.Reverse(out)
	return out, nil
}

// setN overwrites the nth value below the top.
func (fs *FrameState) setN(n int, id InsnID) error {
	idx := len(fs.Stack) - n - 1
	if idx < 0 || n < 0 {
		return &StackUnderflowError{State: fs.Clone()}
	}
	fs.Stack[idx] = id
	return nil
}

// Args returns the edge arguments carrying this state: locals, then stack.
func (fs *FrameState) Args() []InsnID {
	out := make([]InsnID, 0, len(fs.Locals)+len(fs.Stack))
	out = append(out, fs.Locals...)
	return append(out, fs.Stack...)
}

// Clone returns a deep copy.
func (fs *FrameState) Clone() *FrameState {
	return &FrameState{
		PC:     fs.PC,
		Stack:  slices.Clone(fs.Stack),
		Locals: slices.Clone(fs.Locals),
	}
}

func (fs *FrameState) mapIDs(f func(InsnID) InsnID) *FrameState {
	out := fs.Clone()
	for i, id := range out.Stack {
		out.Stack[i] = f(id)
	}
	for i, id := range out.Locals {
		out.Locals[i] = f(id)
	}
	return out
}

func (fs *FrameState) String() string {
	return fmt.Sprintf("FrameState { pc: %d, stack: [%s], locals: [%s] }", fs.PC, joinIDs(fs.Stack), joinIDs(fs.Locals))
}
