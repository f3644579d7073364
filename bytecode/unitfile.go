package bytecode

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// UnitFile is a unit loaded from a TOML description together with any
// operand type samples recorded alongside it.
type UnitFile struct {
	Unit    *Unit
	Profile []ProfileSample
}

// ProfileSample records operand kinds observed at one call site.
type ProfileSample struct {
	PC      int
	Kinds   []string
	Samples uint64
}

type unitSpec struct {
	Name       string        `toml:"name"`
	Params     int           `toml:"params"`
	Locals     int           `toml:"locals"`
	Selectors  []string      `toml:"selectors"`
	Primitives []string      `toml:"primitives"`
	Literals   []literalSpec `toml:"literals"`
	Code       string        `toml:"code"`
	Profile    []sampleSpec  `toml:"profile"`
}

type literalSpec struct {
	Kind  string        `toml:"kind"`
	Value any           `toml:"value"`
	Elems []literalSpec `toml:"elems"`
}

type sampleSpec struct {
	At      string   `toml:"at"`
	PC      *int     `toml:"pc"`
	Kinds   []string `toml:"kinds"`
	Samples uint64   `toml:"samples"`
}

// LoadUnitFile reads and assembles a TOML unit description.
func LoadUnitFile(path string) (*UnitFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	uf, err := ParseUnitFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return uf, nil
}

// ParseUnitFile parses and assembles a TOML unit description.
//
//	name = "max"
//	params = 2
//	locals = 2
//	code = """
//	  push_temp 0
//	  push_temp 1
//	lt:
//	  send_lt
//	  return_top
//	"""
//	[[profile]]
//	at = "lt"
//	kinds = ["fixnum", "fixnum"]
//	samples = 100
func ParseUnitFile(data []byte) (*UnitFile, error) {
	var spec unitSpec
	if err := toml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	if spec.Params > spec.Locals {
		return nil, fmt.Errorf("unit %q declares %d params but only %d locals", spec.Name, spec.Params, spec.Locals)
	}

	u := &Unit{
		Name:       spec.Name,
		Selectors:  spec.Selectors,
		Primitives: spec.Primitives,
		NumParams:  spec.Params,
		NumLocals:  spec.Locals,
	}
	for i, ls := range spec.Literals {
		lit, err := ls.literal()
		if err != nil {
			return nil, fmt.Errorf("literal %d: %w", i, err)
		}
		u.Literals = append(u.Literals, lit)
	}
	if err := u.Assemble(spec.Code); err != nil {
		return nil, err
	}

	uf := &UnitFile{Unit: u}
	for i, ss := range spec.Profile {
		pc := 0
		switch {
		case ss.At != "":
			off, ok := u.Labels[ss.At]
			if !ok {
				return nil, fmt.Errorf("profile %d: undefined label %q", i, ss.At)
			}
			pc = off
		case ss.PC != nil:
			pc = *ss.PC
		default:
			return nil, fmt.Errorf("profile %d: needs either at or pc", i)
		}
		uf.Profile = append(uf.Profile, ProfileSample{PC: pc, Kinds: ss.Kinds, Samples: ss.Samples})
	}
	return uf, nil
}

func (ls literalSpec) literal() (Literal, error) {
	kind, err := ParseLiteralKind(ls.Kind)
	if err != nil {
		return Literal{}, err
	}
	lit := Literal{Kind: kind}

	switch kind {
	case LitNil, LitTrue, LitFalse:
	case LitInt:
		v, ok := ls.Value.(int64)
		if !ok {
			return Literal{}, fmt.Errorf("int literal needs an integer value, got %T", ls.Value)
		}
		lit.Int = v
	case LitFloat:
		switch v := ls.Value.(type) {
		case float64:
			lit.Float = v
		case int64:
			lit.Float = float64(v)
		default:
			return Literal{}, fmt.Errorf("float literal needs a number, got %T", ls.Value)
		}
	case LitString, LitSymbol:
		v, ok := ls.Value.(string)
		if !ok {
			return Literal{}, fmt.Errorf("%s literal needs a string value, got %T", kind, ls.Value)
		}
		lit.Str = v
	case LitArray:
		for i, e := range ls.Elems {
			el, err := e.literal()
			if err != nil {
				return Literal{}, fmt.Errorf("element %d: %w", i, err)
			}
			lit.Elems = append(lit.Elems, el)
		}
	}
	return lit, nil
}
