package bytecode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidIndex is returned when an operand names a literal, selector,
// primitive or local slot the unit does not have.
var ErrInvalidIndex = errors.New("operand index out of range")

// LiteralKind tags the value stored in a Literal.
type LiteralKind uint8

const (
	LitNil LiteralKind = iota
	LitTrue
	LitFalse
	LitInt
	LitFloat
	LitString
	LitSymbol
	LitArray
)

var literalKindNames = [...]string{
	LitNil:    "nil",
	LitTrue:   "true",
	LitFalse:  "false",
	LitInt:    "int",
	LitFloat:  "float",
	LitString: "string",
	LitSymbol: "symbol",
	LitArray:  "array",
}

func (k LiteralKind) String() string {
	if int(k) < len(literalKindNames) {
		return literalKindNames[k]
	}
	return fmt.Sprintf("LiteralKind(%d)", uint8(k))
}

// ParseLiteralKind is the inverse of LiteralKind.String.
func ParseLiteralKind(s string) (LiteralKind, error) {
	for k, name := range literalKindNames {
		if name == s {
			return LiteralKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown literal kind %q", s)
}

// Literal is an entry in a unit's literal frame.
type Literal struct {
	Kind  LiteralKind `cbor:"1,keyasint"`
	Int   int64      `cbor:"2,keyasint,omitempty"`
	Float float64    `cbor:"3,keyasint,omitempty"`
	Str   string     `cbor:"4,keyasint,omitempty"`
	Elems []Literal  `cbor:"5,keyasint,omitempty"`
}

// String renders the literal the way the disassembler shows it.
func (l Literal) String() string {
	switch l.Kind {
	case LitNil, LitTrue, LitFalse:
		return l.Kind.String()
	case LitInt:
		return strconv.FormatInt(l.Int, 10)
	case LitFloat:
		return strconv.FormatFloat(l.Float, 'g', -1, 64)
	case LitString:
		return strconv.Quote(l.Str)
	case LitSymbol:
		return "#" + l.Str
	case LitArray:
		parts := make([]string, len(l.Elems))
		for i, e := range l.Elems {
			parts[i] = e.String()
		}
		return "#(" + strings.Join(parts, " ") + ")"
	}
	return l.Kind.String()
}

// Unit is one compiled method: a linear instruction stream plus the
// tables its operands index into. It is the input to the JIT.
type Unit struct {
	Name       string         `cbor:"1,keyasint"`
	Code       []byte         `cbor:"2,keyasint"`
	Literals   []Literal      `cbor:"3,keyasint,omitempty"`
	Selectors  []string       `cbor:"4,keyasint,omitempty"`
	Primitives []string       `cbor:"5,keyasint,omitempty"`
	NumParams  int            `cbor:"6,keyasint"` // leading positional parameters
	NumLocals  int            `cbor:"7,keyasint"` // all locals, parameters included
	Labels     map[string]int `cbor:"8,keyasint,omitempty"`
}

// SlotForLocal converts a dense local index into the environment slot
// offset used by temp operands.
func SlotForLocal(local, numLocals int) int {
	return numLocals - local - 1 + EnvDataSize
}

// LocalIndex converts an environment slot offset into a dense local index.
//
//	low addr  | local 0 | local 1 | ... | local n-1 | env data (EnvDataSize) | <- ep
//	          ^ slot = n-1+EnvDataSize            ^ slot = EnvDataSize
func (u *Unit) LocalIndex(slot int) (int, error) {
	idx := u.NumLocals - (slot - EnvDataSize) - 1
	if slot < EnvDataSize || idx < 0 || idx >= u.NumLocals {
		return 0, fmt.Errorf("%w: temp slot %d in a frame of %d locals", ErrInvalidIndex, slot, u.NumLocals)
	}
	return idx, nil
}

// Literal returns the literal at index i.
func (u *Unit) Literal(i int) (Literal, error) {
	if i < 0 || i >= len(u.Literals) {
		return Literal{}, fmt.Errorf("%w: literal %d of %d", ErrInvalidIndex, i, len(u.Literals))
	}
	return u.Literals[i], nil
}

// Selector returns the method name for selector index i.
func (u *Unit) Selector(i int) (string, error) {
	if i < 0 || i >= len(u.Selectors) {
		return "", fmt.Errorf("%w: selector %d of %d", ErrInvalidIndex, i, len(u.Selectors))
	}
	return u.Selectors[i], nil
}

// Primitive returns the native function name for primitive index i.
func (u *Unit) Primitive(i int) (string, error) {
	if i < 0 || i >= len(u.Primitives) {
		return "", fmt.Errorf("%w: primitive %d of %d", ErrInvalidIndex, i, len(u.Primitives))
	}
	return u.Primitives[i], nil
}

// Size returns the encoded length of the instruction stream.
func (u *Unit) Size() int {
	return len(u.Code)
}

// LabelAt returns the assembler label naming offset pc, if any. When
// several labels share an offset the alphabetically first one wins.
func (u *Unit) LabelAt(pc int) (string, bool) {
	found := ""
	for name, off := range u.Labels {
		if off == pc && (found == "" || name < found) {
			found = name
		}
	}
	return found, found != ""
}
