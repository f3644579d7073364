// Package jit connects the profiler to the HIR builder and a machine-code
// backend. Units that cross the hot threshold are queued for a background
// worker; Compile can also be called directly.
package jit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/mjit/asm"
	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/config"
	"github.com/chazu/mjit/hir"
	"github.com/chazu/mjit/profile"
	"github.com/chazu/mjit/store"
)

var (
	// ErrCodeExhausted is returned when the code region filled up while a
	// backend was emitting. The unit is not installed and not retried.
	ErrCodeExhausted = errors.New("jit: code region exhausted")

	// ErrUnitTooLarge is returned for units longer than MaxUnitBytes.
	ErrUnitTooLarge = errors.New("jit: unit too large")
)

var log = commonlog.GetLogger("mjit.jit")

// Backend lowers a Function to machine code.
type Backend interface {
	Emit(cb *asm.CodeBlock, fn *hir.Function) error
}

// Compiled is the result of compiling one unit.
type Compiled struct {
	ID       uuid.UUID
	Unit     *bytecode.Unit
	Key      string // cache key: unit hash plus speculated profile
	Function *hir.Function
	Dump     string // rendered at the configured dump level
	Cached   bool   // Function came from the store

	Code     asm.CodePtr // zero without a backend
	CodeSize int
	Duration time.Duration
}

// Options configure a Compiler.
type Options struct {
	Config   config.JIT
	Backend  Backend      // optional
	Store    *store.Store // optional
	Region   *asm.Region  // nil allocates Config.CodeSize bytes
	Profiler *profile.Profiler
}

// Compiler manages compilation of hot units.
type Compiler struct {
	cfg      config.JIT
	dump     hir.DumpLevel
	profiler *profile.Profiler
	backend  Backend
	store    *store.Store

	// installMu serializes building, emitting and installing. It also
	// guards region and codePos.
	installMu sync.Mutex
	region    *asm.Region
	codePos   int

	mu       sync.RWMutex
	compiled map[*bytecode.Unit]*Compiled
	queued   map[*bytecode.Unit]bool

	pending  chan *bytecode.Unit
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	unitsCompiled uint64
	cacheHits     uint64
	failures      uint64
	dropped       uint64
}

// NewCompiler creates a compiler and starts its background worker.
func NewCompiler(opts Options) *Compiler {
	cfg := opts.Config
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultQueueSize
	}
	if cfg.MaxUnitBytes <= 0 {
		cfg.MaxUnitBytes = config.DefaultMaxUnitBytes
	}
	if cfg.CodeSize <= 0 {
		cfg.CodeSize = config.DefaultCodeSize
	}

	c := &Compiler{
		cfg:      cfg,
		dump:     cfg.DumpLevel(),
		profiler: opts.Profiler,
		backend:  opts.Backend,
		store:    opts.Store,
		region:   opts.Region,
		compiled: make(map[*bytecode.Unit]*Compiled),
		queued:   make(map[*bytecode.Unit]bool),
		pending:  make(chan *bytecode.Unit, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	if c.region == nil {
		c.region = asm.AllocRegion(cfg.CodeSize)
	}
	if c.profiler == nil {
		c.profiler = profile.NewProfiler()
	}
	if cfg.HotThreshold > 0 {
		c.profiler.HotThreshold = cfg.HotThreshold
	}
	c.profiler.OnHot = c.onHot

	c.wg.Add(1)
	go c.worker()
	return c
}

// Profiler returns the profiler feeding this compiler.
func (c *Compiler) Profiler() *profile.Profiler { return c.profiler }

// RecordInvocation counts one call of unit. Returns true if this call made
// the unit hot.
func (c *Compiler) RecordInvocation(unit *bytecode.Unit) bool {
	return c.profiler.RecordInvocation(unit)
}

// RecordTypes records operand kinds observed at pc in unit.
func (c *Compiler) RecordTypes(unit *bytecode.Unit, pc int, kinds ...profile.Kind) {
	c.profiler.RecordTypes(unit, pc, kinds...)
}

func (c *Compiler) onHot(unit *bytecode.Unit, _ *profile.UnitProfile) {
	if !c.cfg.Enabled {
		return
	}

	c.mu.Lock()
	if c.queued[unit] || c.compiled[unit] != nil {
		c.mu.Unlock()
		return
	}
	c.queued[unit] = true
	c.mu.Unlock()

	select {
	case c.pending <- unit:
	default:
		// Queue full; the unit stays interpreted.
		atomic.AddUint64(&c.dropped, 1)
		c.mu.Lock()
		delete(c.queued, unit)
		c.mu.Unlock()
		log.Warningf("queue full, dropping hot unit %s", unit.Name)
	}
}

func (c *Compiler) worker() {
	defer c.wg.Done()
	for {
		select {
		case unit := <-c.pending:
			if _, err := c.Compile(context.Background(), unit); err != nil {
				log.Warningf("compiling %s: %s", unit.Name, err)
			}
		case <-c.done:
			return
		}
	}
}

// Stop shuts down the background worker. Units still queued are not
// compiled. Stop is idempotent.
func (c *Compiler) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

// Lookup returns the installed result for unit.
func (c *Compiler) Lookup(unit *bytecode.Unit) (*Compiled, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.compiled[unit]
	return res, ok
}

// Compile builds HIR for unit using its recorded type profile, runs the
// backend and installs the result. A unit already installed is returned
// as is.
func (c *Compiler) Compile(ctx context.Context, unit *bytecode.Unit) (*Compiled, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	if res, ok := c.Lookup(unit); ok {
		return res, nil
	}

	res, err := c.translate(ctx, unit, c.profiler.Types(unit))
	if err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, err
	}
	if err := c.emit(res); err != nil {
		atomic.AddUint64(&c.failures, 1)
		return nil, err
	}

	c.mu.Lock()
	c.compiled[unit] = res
	delete(c.queued, unit)
	c.mu.Unlock()
	atomic.AddUint64(&c.unitsCompiled, 1)

	log.Infof("compiled %s (%s): %d blocks, %d insns, %d code bytes in %s",
		unit.Name, res.ID, res.Function.NumBlocks(), res.Function.NumInsns(), res.CodeSize, res.Duration)
	return res, nil
}

// Translate builds HIR for unit against types without emitting or
// installing anything. The store is consulted and filled as for Compile.
func (c *Compiler) Translate(ctx context.Context, unit *bytecode.Unit, types *profile.TypeProfile) (*Compiled, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()
	return c.translate(ctx, unit, types)
}

func (c *Compiler) translate(ctx context.Context, unit *bytecode.Unit, types *profile.TypeProfile) (*Compiled, error) {
	if unit == nil {
		return nil, errors.New("jit: nil unit")
	}
	if unit.Size() > c.cfg.MaxUnitBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrUnitTooLarge, unit.Name, unit.Size(), c.cfg.MaxUnitBytes)
	}

	start := time.Now()
	key, err := cacheKey(unit, types)
	if err != nil {
		return nil, err
	}
	res := &Compiled{ID: uuid.New(), Unit: unit, Key: key}

	if c.store != nil {
		entry, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			atomic.AddUint64(&c.cacheHits, 1)
			res.ID = entry.ID
			res.Function = entry.Function
			res.Dump = entry.Dump
			res.Cached = true
			res.Duration = time.Since(start)
			log.Debugf("cache hit for %s", unit.Name)
			return res, nil
		case errors.Is(err, store.ErrNotFound):
		default:
			log.Warningf("cache lookup for %s: %s", unit.Name, err)
		}
	}

	fn, err := hir.FromUnit(unit, types)
	if err != nil {
		return nil, fmt.Errorf("jit: compile %s: %w", unit.Name, err)
	}
	if err := fn.Validate(); err != nil {
		return nil, fmt.Errorf("jit: compile %s: %w", unit.Name, err)
	}
	res.Function = fn
	res.Dump = fn.Dump(c.dump)
	if res.Dump != "" {
		log.Noticef("HIR for %s:\n%s", unit.Name, res.Dump)
	}

	if c.store != nil {
		entry := &store.Entry{ID: res.ID, UnitHash: key, Name: unit.Name, Function: fn, Dump: res.Dump}
		if err := c.store.Put(ctx, entry); err != nil {
			log.Warningf("caching %s: %s", unit.Name, err)
		}
	}
	res.Duration = time.Since(start)
	return res, nil
}

// emit runs the backend at the current end of the region. installMu must
// be held.
func (c *Compiler) emit(res *Compiled) error {
	if c.backend == nil {
		return nil
	}
	cb := asm.NewCodeBlockAt(c.region, c.codePos)
	if err := c.backend.Emit(cb, res.Function); err != nil {
		return fmt.Errorf("jit: emit %s: %w", res.Unit.Name, err)
	}
	if cb.DroppedBytes() {
		return fmt.Errorf("%w: emitting %s at offset %d of %d", ErrCodeExhausted, res.Unit.Name, c.codePos, c.region.Cap())
	}
	res.Code = cb.GetPtr(c.codePos)
	res.CodeSize = cb.CodeSize() - c.codePos
	c.codePos = cb.CodeSize()
	return nil
}

// cacheKey identifies a compilation: the unit's content hash, plus the
// operand kinds speculated on when there are any.
func cacheKey(unit *bytecode.Unit, types *profile.TypeProfile) (string, error) {
	hash, err := unit.Hash()
	if err != nil {
		return "", err
	}
	var samples []bytecode.ProfileSample
	if types != nil {
		samples = types.Samples()
	}
	if len(samples) == 0 {
		return hash, nil
	}
	for i := range samples {
		samples[i].Samples = 0
	}
	data, err := cbor.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("jit: hash profile: %w", err)
	}
	sum := sha256.Sum256(append([]byte(hash), data...))
	return hex.EncodeToString(sum[:]), nil
}

// Stats holds compilation statistics.
type Stats struct {
	UnitsCompiled uint64
	CacheHits     uint64
	Failures      uint64
	Dropped       uint64 // hot units not queued because the queue was full
	CodeBytes     int
	CodeCapacity  int
	Profiler      profile.ProfilerStats
}

// Stats returns current statistics.
func (c *Compiler) Stats() Stats {
	c.installMu.Lock()
	used := c.codePos
	c.installMu.Unlock()
	return Stats{
		UnitsCompiled: atomic.LoadUint64(&c.unitsCompiled),
		CacheHits:     atomic.LoadUint64(&c.cacheHits),
		Failures:      atomic.LoadUint64(&c.failures),
		Dropped:       atomic.LoadUint64(&c.dropped),
		CodeBytes:     used,
		CodeCapacity:  c.region.Cap(),
		Profiler:      c.profiler.Stats(),
	}
}
