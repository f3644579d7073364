package profile

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/chazu/mjit/bytecode"
)

// Per-call-site operand profiling.
//
// Every arithmetic or comparison site records the kinds of the operands it
// saw. Like a send-site inline cache the record moves through
// Empty -> Monomorphic -> Polymorphic -> Megamorphic as new shapes appear.
// Only a monomorphic site is a safe basis for speculation.

// SiteState represents how many distinct operand shapes a site has seen.
type SiteState uint8

const (
	SiteEmpty       SiteState = iota // nothing observed yet
	SiteMonomorphic                  // one shape on every sample
	SitePolymorphic                  // 2..MaxSiteShapes shapes
	SiteMegamorphic                  // too many shapes, stop recording them
)

func (s SiteState) String() string {
	switch s {
	case SiteEmpty:
		return "empty"
	case SiteMonomorphic:
		return "monomorphic"
	case SitePolymorphic:
		return "polymorphic"
	case SiteMegamorphic:
		return "megamorphic"
	}
	return fmt.Sprintf("SiteState(%d)", uint8(s))
}

// MaxSiteShapes is the number of distinct shapes tracked before a site goes
// megamorphic.
const MaxSiteShapes = 4

// OperandTypes summarizes a monomorphic site: the operand kinds observed on
// every sample, in stack order (receiver first).
type OperandTypes struct {
	Samples uint64
	Kinds   []Kind
}

// Site holds the observations for a single bytecode offset.
type Site struct {
	State   SiteState
	Shapes  [][]Kind
	Samples uint64
}

// observe records n samples of one operand shape.
func (s *Site) observe(kinds []Kind, n uint64) {
	s.Samples += n

	switch s.State {
	case SiteEmpty:
		s.State = SiteMonomorphic
		s.Shapes = [][]Kind{slices.Clone(kinds)}

	case SiteMonomorphic, SitePolymorphic:
		for _, shape := range s.Shapes {
			if slices.Equal(shape, kinds) {
				return
			}
		}
		if len(s.Shapes) < MaxSiteShapes {
			s.Shapes = append(s.Shapes, slices.Clone(kinds))
			s.State = SitePolymorphic
		} else {
			s.State = SiteMegamorphic
			s.Shapes = nil
		}

	case SiteMegamorphic:
	}
}

// TypeProfile holds the operand sites of one unit, keyed by the bytecode
// offset of the instruction that consumes the operands.
type TypeProfile struct {
	mu    sync.Mutex
	sites map[int]*Site
}

// NewTypeProfile creates an empty profile.
func NewTypeProfile() *TypeProfile {
	return &TypeProfile{sites: make(map[int]*Site)}
}

// Observe records one sample at pc.
func (tp *TypeProfile) Observe(pc int, kinds ...Kind) {
	tp.ObserveN(pc, 1, kinds...)
}

// ObserveN records n identical samples at pc.
func (tp *TypeProfile) ObserveN(pc int, n uint64, kinds ...Kind) {
	if n == 0 {
		return
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	s, ok := tp.sites[pc]
	if !ok {
		s = &Site{}
		tp.sites[pc] = s
	}
	s.observe(kinds, n)
}

// OperandTypes returns the observed operand kinds at pc if the site is
// monomorphic. A nil profile never reports anything.
func (tp *TypeProfile) OperandTypes(pc int) (OperandTypes, bool) {
	if tp == nil {
		return OperandTypes{}, false
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	s, ok := tp.sites[pc]
	if !ok || s.State != SiteMonomorphic {
		return OperandTypes{}, false
	}
	return OperandTypes{Samples: s.Samples, Kinds: slices.Clone(s.Shapes[0])}, true
}

// Site returns a copy of the site record at pc.
func (tp *TypeProfile) Site(pc int) (Site, bool) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	s, ok := tp.sites[pc]
	if !ok {
		return Site{}, false
	}
	cp := Site{State: s.State, Samples: s.Samples}
	for _, shape := range s.Shapes {
		cp.Shapes = append(cp.Shapes, slices.Clone(shape))
	}
	return cp, true
}

// Offsets returns the profiled bytecode offsets in ascending order.
func (tp *TypeProfile) Offsets() []int {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	pcs := make([]int, 0, len(tp.sites))
	for pc := range tp.sites {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	return pcs
}

// Reset clears every site.
func (tp *TypeProfile) Reset() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.sites = make(map[int]*Site)
}

// FromSamples builds a profile from samples recorded in a unit file or
// received over the wire. A sample with zero count is read as one.
func FromSamples(samples []bytecode.ProfileSample) (*TypeProfile, error) {
	tp := NewTypeProfile()
	if err := tp.Load(samples); err != nil {
		return nil, err
	}
	return tp, nil
}

// Load adds recorded samples to the profile. Nothing is recorded if any
// sample names an unknown kind.
func (tp *TypeProfile) Load(samples []bytecode.ProfileSample) error {
	parsed := make([][]Kind, len(samples))
	for i, s := range samples {
		kinds, err := ParseKinds(s.Kinds)
		if err != nil {
			return fmt.Errorf("profile sample %d: %w", i, err)
		}
		parsed[i] = kinds
	}
	for i, s := range samples {
		n := s.Samples
		if n == 0 {
			n = 1
		}
		tp.ObserveN(s.PC, n, parsed[i]...)
	}
	return nil
}

// Samples exports the monomorphic sites as samples, in offset order.
func (tp *TypeProfile) Samples() []bytecode.ProfileSample {
	var out []bytecode.ProfileSample
	for _, pc := range tp.Offsets() {
		ot, ok := tp.OperandTypes(pc)
		if !ok {
			continue
		}
		names := make([]string, len(ot.Kinds))
		for i, k := range ot.Kinds {
			names[i] = k.String()
		}
		out = append(out, bytecode.ProfileSample{PC: pc, Kinds: names, Samples: ot.Samples})
	}
	return out
}
