package profile

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/mjit/bytecode"
)

// Profiler tracks unit invocation counts to identify hot code for JIT
// compilation, and owns the per-unit operand type profiles.
//
// Profiling happens at unit level for hotness and at call-site level for
// operand kinds. A unit becomes hot exactly once.

// UnitProfile holds profiling data for a single unit.
type UnitProfile struct {
	InvocationCount uint64 // atomic
	hot             atomic.Bool
	Types           *TypeProfile // fixed at creation
}

// IsHot reports whether the unit crossed the threshold.
func (up *UnitProfile) IsHot() bool {
	return up.hot.Load()
}

// Profiler manages profiling for all units seen by the host.
type Profiler struct {
	profiles sync.Map // *bytecode.Unit -> *UnitProfile

	// HotThreshold is the invocation count at which a unit becomes hot.
	HotThreshold uint64

	// OnHot is called once per unit, from the goroutine whose invocation
	// crossed the threshold.
	OnHot func(unit *bytecode.Unit, profile *UnitProfile)

	hotCount uint64
}

// DefaultHotThreshold is used by NewProfiler.
const DefaultHotThreshold = 100

// NewProfiler creates a profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: DefaultHotThreshold}
}

func (p *Profiler) profileFor(unit *bytecode.Unit) *UnitProfile {
	if val, ok := p.profiles.Load(unit); ok {
		return val.(*UnitProfile)
	}
	val, _ := p.profiles.LoadOrStore(unit, &UnitProfile{Types: NewTypeProfile()})
	return val.(*UnitProfile)
}

// RecordInvocation increments the invocation count for a unit.
// Returns true if this invocation caused the unit to become hot.
func (p *Profiler) RecordInvocation(unit *bytecode.Unit) bool {
	if unit == nil {
		return false
	}
	profile := p.profileFor(unit)
	count := atomic.AddUint64(&profile.InvocationCount, 1)

	if count >= p.HotThreshold && profile.hot.CompareAndSwap(false, true) {
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(unit, profile)
		}
		return true
	}
	return false
}

// RecordTypes records the operand kinds seen at pc in unit.
func (p *Profiler) RecordTypes(unit *bytecode.Unit, pc int, kinds ...Kind) {
	if unit == nil {
		return
	}
	p.profileFor(unit).Types.Observe(pc, kinds...)
}

// Types returns the operand type profile of a unit, creating an empty one
// if the unit has not been seen.
func (p *Profiler) Types(unit *bytecode.Unit) *TypeProfile {
	return p.profileFor(unit).Types
}

// Profile returns the profile for a unit, or nil if not tracked.
func (p *Profiler) Profile(unit *bytecode.Unit) *UnitProfile {
	if val, ok := p.profiles.Load(unit); ok {
		return val.(*UnitProfile)
	}
	return nil
}

// IsHot returns true if the unit has exceeded the hot threshold.
func (p *Profiler) IsHot(unit *bytecode.Unit) bool {
	profile := p.Profile(unit)
	return profile != nil && profile.IsHot()
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalUnits       int
	HotUnits         int
	TotalInvocations uint64
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(_, value any) bool {
		profile := value.(*UnitProfile)
		stats.TotalUnits++
		stats.TotalInvocations += atomic.LoadUint64(&profile.InvocationCount)
		if profile.IsHot() {
			stats.HotUnits++
		}
		return true
	})
	return stats
}

// HotUnits returns all units that have exceeded the hot threshold.
func (p *Profiler) HotUnits() []*bytecode.Unit {
	var hot []*bytecode.Unit
	p.profiles.Range(func(key, value any) bool {
		if value.(*UnitProfile).IsHot() {
			hot = append(hot, key.(*bytecode.Unit))
		}
		return true
	})
	return hot
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.profiles.Range(func(key, _ any) bool {
		p.profiles.Delete(key)
		return true
	})
	atomic.StoreUint64(&p.hotCount, 0)
}
