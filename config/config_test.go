package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/mjit/hir"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[jit]
enabled = false
hot-threshold = 7
queue-size = 3
max-unit-bytes = 512
code-size = 4096
dump-hir = "all"

[cache]
path = "cache/mjit.db"

[server]
port = 9000

[log]
verbosity = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.JIT.Enabled {
		t.Error("jit.enabled = true, want false")
	}
	if c.JIT.HotThreshold != 7 {
		t.Errorf("hot-threshold = %d, want 7", c.JIT.HotThreshold)
	}
	if c.JIT.QueueSize != 3 || c.JIT.MaxUnitBytes != 512 || c.JIT.CodeSize != 4096 {
		t.Errorf("jit = %+v", c.JIT)
	}
	if c.JIT.DumpLevel() != hir.DumpAll {
		t.Errorf("dump level = %v, want all", c.JIT.DumpLevel())
	}
	if c.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", c.Server.Port)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}

	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
	if want := filepath.Join(abs, "cache", "mjit.db"); c.CachePath() != want {
		t.Errorf("cache path = %q, want %q", c.CachePath(), want)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !c.JIT.Enabled {
		t.Error("jit should default to enabled")
	}
	if c.JIT.HotThreshold != DefaultHotThreshold {
		t.Errorf("hot-threshold = %d, want %d", c.JIT.HotThreshold, DefaultHotThreshold)
	}
	if c.JIT.DumpLevel() != hir.DumpNone {
		t.Errorf("dump level = %v, want none", c.JIT.DumpLevel())
	}
	if c.CachePath() != "" {
		t.Errorf("cache should be disabled by default, got %q", c.CachePath())
	}
	if c.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", c.Server.Port, DefaultPort)
	}

	d := Default()
	d.Dir = c.Dir
	if *d != *c {
		t.Errorf("Default() = %+v, want %+v", d, c)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[jit\n"},
		{"dump level", "[jit]\ndump-hir = \"verbose\"\n"},
		{"port", "[server]\nport = 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("expected an error")
			}
		})
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[server]\nport = 1234\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil || c.Server.Port != 1234 {
		t.Fatalf("FindAndLoad = %+v, want port 1234", c)
	}
}
