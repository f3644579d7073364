// Package asm holds the machine-code buffer that backends emit into.
//
// The backing memory is a Region owned outside the buffer. Several
// CodeBlocks may share one Region; callers serialize writes to it.
package asm

import (
	"fmt"
	"unsafe"
)

// CodePtr is the absolute address of a byte inside a Region.
type CodePtr uintptr

// Add returns p advanced by n bytes.
func (p CodePtr) Add(n int) CodePtr { return p + CodePtr(n) }

func (p CodePtr) String() string { return fmt.Sprintf("0x%x", uintptr(p)) }

// Region is a fixed-capacity span of memory reserved for generated code.
// It never grows: writes past its capacity fail.
type Region struct {
	mem  []byte
	base CodePtr
}

// NewRegion wraps mem. The slice must stay alive and must not be resliced
// by the caller while the Region is in use.
func NewRegion(mem []byte) *Region {
	r := &Region{mem: mem}
	if len(mem) > 0 {
		r.base = CodePtr(uintptr(unsafe.Pointer(unsafe.SliceData(mem))))
	}
	return r
}

// AllocRegion reserves size bytes on the Go heap.
func AllocRegion(size int) *Region {
	return NewRegion(make([]byte, size))
}

// Cap returns the capacity in bytes.
func (r *Region) Cap() int { return len(r.mem) }

// Base returns the address of the first byte.
func (r *Region) Base() CodePtr { return r.base }

// Bytes returns the backing memory.
func (r *Region) Bytes() []byte { return r.mem }

// writeByte stores b at offset off, reporting false when off is outside
// the region.
func (r *Region) writeByte(off int, b byte) bool {
	if off < 0 || off >= len(r.mem) {
		return false
	}
	r.mem[off] = b
	return true
}
