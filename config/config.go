// Package config handles mjit.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/mjit/hir"
)

// FileName is the name Load and FindAndLoad look for.
const FileName = "mjit.toml"

// Config represents an mjit.toml file.
type Config struct {
	JIT    JIT    `toml:"jit"`
	Cache  Cache  `toml:"cache"`
	Server Server `toml:"server"`
	Log    Log    `toml:"log"`

	// Dir is the directory containing the mjit.toml file (set at load time).
	Dir string `toml:"-"`
}

// JIT configures the compiler driver.
type JIT struct {
	Enabled      bool   `toml:"enabled"`
	HotThreshold uint64 `toml:"hot-threshold"`
	QueueSize    int    `toml:"queue-size"`
	MaxUnitBytes int    `toml:"max-unit-bytes"`
	CodeSize     int    `toml:"code-size"` // bytes reserved for generated code
	DumpHIR      string `toml:"dump-hir"`
}

// Cache configures the compiled-unit cache.
type Cache struct {
	Path string `toml:"path"` // empty disables the cache
}

// Server configures the compile service.
type Server struct {
	Port int `toml:"port"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Defaults
const (
	DefaultHotThreshold = 100
	DefaultQueueSize    = 64
	DefaultMaxUnitBytes = 64 * 1024
	DefaultCodeSize     = 1 << 20
	DefaultPort         = 8765
)

// Default returns the configuration used when no mjit.toml exists.
func Default() *Config {
	c := &Config{JIT: JIT{Enabled: true}}
	c.applyDefaults()
	return c
}

// Load parses an mjit.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Config{JIT: JIT{Enabled: true}}
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find an mjit.toml file, then
// loads it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (c *Config) applyDefaults() {
	if c.JIT.HotThreshold == 0 {
		c.JIT.HotThreshold = DefaultHotThreshold
	}
	if c.JIT.QueueSize <= 0 {
		c.JIT.QueueSize = DefaultQueueSize
	}
	if c.JIT.MaxUnitBytes <= 0 {
		c.JIT.MaxUnitBytes = DefaultMaxUnitBytes
	}
	if c.JIT.CodeSize <= 0 {
		c.JIT.CodeSize = DefaultCodeSize
	}
	if c.JIT.DumpHIR == "" {
		c.JIT.DumpHIR = hir.DumpNone.String()
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
}

func (c *Config) validate() error {
	if _, err := hir.ParseDumpLevel(c.JIT.DumpHIR); err != nil {
		return fmt.Errorf("jit.dump-hir: %w", err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// DumpLevel returns the parsed jit.dump-hir setting.
func (j JIT) DumpLevel() hir.DumpLevel {
	lvl, err := hir.ParseDumpLevel(j.DumpHIR)
	if err != nil {
		return hir.DumpNone
	}
	return lvl
}

// CachePath returns the cache path resolved against Dir, or "" when the
// cache is disabled.
func (c *Config) CachePath() string {
	if c.Cache.Path == "" || filepath.IsAbs(c.Cache.Path) || c.Dir == "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Dir, c.Cache.Path)
}
