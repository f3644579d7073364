package asm

import "io"

// LabelRef records a forward reference that a backend patches once the
// label's address is known.
type LabelRef struct {
	Pos      int // write position of the placeholder bytes
	LabelIdx int
	NumBytes int
	Encode   func(cb *CodeBlock, src, dst int64)
}

// CodeBlock appends bytes to a Region.
//
// A write that does not fit is dropped rather than failing: the write
// position stays put and DroppedBytes reports true from then on. Backends
// check the flag once after emitting a whole function.
type CodeBlock struct {
	region       *Region
	writePos     int
	droppedBytes bool
	labelRefs    []LabelRef
}

// NewCodeBlock returns a block writing at the start of region.
func NewCodeBlock(region *Region) *CodeBlock {
	return &CodeBlock{region: region}
}

// NewCodeBlockAt returns a block writing into region from offset pos.
// Used when several blocks share a region one after another.
func NewCodeBlockAt(region *Region, pos int) *CodeBlock {
	return &CodeBlock{region: region, writePos: pos}
}

// Region returns the backing memory.
func (cb *CodeBlock) Region() *Region { return cb.region }

// WritePos returns the offset of the next byte to be written.
func (cb *CodeBlock) WritePos() int { return cb.writePos }

// CodeSize returns the number of bytes committed to the region.
func (cb *CodeBlock) CodeSize() int { return cb.writePos }

// SetPos moves the write position, e.g. to patch bytes already written.
func (cb *CodeBlock) SetPos(pos int) { cb.writePos = pos }

// DroppedBytes reports whether any write failed for lack of space.
func (cb *CodeBlock) DroppedBytes() bool { return cb.droppedBytes }

// GetWritePtr returns the address of the next byte to be written.
func (cb *CodeBlock) GetWritePtr() CodePtr {
	return cb.GetPtr(cb.writePos)
}

// GetPtr returns the address of the byte at offset.
func (cb *CodeBlock) GetPtr(offset int) CodePtr {
	return cb.region.Base().Add(offset)
}

// WriteByte appends one byte. It always returns nil so CodeBlock
// satisfies io.ByteWriter; check DroppedBytes for exhaustion.
func (cb *CodeBlock) WriteByte(b byte) error {
	if cb.region.writeByte(cb.writePos, b) {
		cb.writePos++
	} else {
		cb.droppedBytes = true
	}
	return nil
}

// WriteBytes appends bs one byte at a time, stopping at the first byte
// that does not fit.
func (cb *CodeBlock) WriteBytes(bs []byte) {
	for _, b := range bs {
		pos := cb.writePos
		cb.WriteByte(b)
		if cb.writePos == pos {
			return
		}
	}
}

// Write implements io.Writer over WriteBytes.
func (cb *CodeBlock) Write(p []byte) (int, error) {
	start := cb.writePos
	cb.WriteBytes(p)
	n := cb.writePos - start
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// WriteInt appends the low numBits of val in little-endian order.
// numBits must be a positive multiple of 8.
func (cb *CodeBlock) WriteInt(val uint64, numBits int) {
	if numBits <= 0 || numBits%8 != 0 {
		panic("asm: WriteInt width must be a positive multiple of 8")
	}
	for i := 0; i < numBits/8; i++ {
		cb.WriteByte(byte(val))
		val >>= 8
	}
}

// LabelRef registers a reference to label idx at the current position.
// The encoded displacement will occupy numBytes; this package only records
// the reference; resolving it is left to the backend.
func (cb *CodeBlock) LabelRef(idx, numBytes int, encode func(cb *CodeBlock, src, dst int64)) {
	cb.labelRefs = append(cb.labelRefs, LabelRef{
		Pos:      cb.writePos,
		LabelIdx: idx,
		NumBytes: numBytes,
		Encode:   encode,
	})
}

// LabelRefs returns the references registered so far.
func (cb *CodeBlock) LabelRefs() []LabelRef { return cb.labelRefs }
