// Package profile collects the runtime observations the JIT consumes:
// invocation counts that decide when a unit is hot, and per-call-site
// operand kinds that decide whether arithmetic may be specialized.
package profile

import (
	"fmt"
	"strings"
)

// Kind is the runtime representation observed for an operand.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFixnum
	KindFloat
	KindString
	KindNil
	KindBool
	KindObject
)

var kindNames = [...]string{
	KindUnknown: "unknown",
	KindFixnum:  "fixnum",
	KindFloat:   "float",
	KindString:  "string",
	KindNil:     "nil",
	KindBool:    "bool",
	KindObject:  "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Title returns the capitalized name used in specialized opcode names
// such as FixnumAdd.
func (k Kind) Title() string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

// IsNumeric reports whether arithmetic on this kind has a fast path.
func (k Kind) IsNumeric() bool {
	return k == KindFixnum || k == KindFloat
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown operand kind %q", s)
}

// ParseKinds parses a list of kind names.
func ParseKinds(names []string) ([]Kind, error) {
	kinds := make([]Kind, len(names))
	for i, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	return kinds, nil
}
