package asm

import "math"

// ImmNumBits returns the smallest signed width (8, 16, 32 or 64) that
// holds imm.
func ImmNumBits(imm int64) int {
	switch {
	case imm >= math.MinInt8 && imm <= math.MaxInt8:
		return 8
	case imm >= math.MinInt16 && imm <= math.MaxInt16:
		return 16
	case imm >= math.MinInt32 && imm <= math.MaxInt32:
		return 32
	}
	return 64
}

// UimmNumBits returns the smallest unsigned width that holds uimm.
func UimmNumBits(uimm uint64) int {
	switch {
	case uimm <= math.MaxUint8:
		return 8
	case uimm <= math.MaxUint16:
		return 16
	case uimm <= math.MaxUint32:
		return 32
	}
	return 64
}
