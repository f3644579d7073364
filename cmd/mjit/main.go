// mjit builds HIR for bytecode units and prints it, or serves the
// compiler over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/config"
	"github.com/chazu/mjit/hir"
	"github.com/chazu/mjit/jit"
	"github.com/chazu/mjit/profile"
	"github.com/chazu/mjit/server"
	"github.com/chazu/mjit/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mjit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", "", "Directory holding mjit.toml (default: search upward from .)")
	dump := fs.String("dump", "", "HIR dump level: none, hir, all, raw (default: from config, else hir)")
	disasm := fs.Bool("disasm", false, "Print the bytecode listing before the HIR")
	cachePath := fs.String("cache", "", "SQLite compiled-unit cache (overrides config)")
	verbosity := fs.Int("v", 0, "Log verbosity (overrides config)")
	serveMode := fs.Bool("serve", false, "Start the compile service")
	servePort := fs.Int("port", 0, "Compile service port (used with -serve)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: mjit [options] unit.toml...\n\n")
		fmt.Fprintf(stderr, "Builds HIR for each bytecode unit file and prints it.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  mjit add.toml                  # Print HIR without snapshots\n")
		fmt.Fprintf(stderr, "  mjit -dump all -disasm add.toml\n")
		fmt.Fprintf(stderr, "  mjit -serve -port 9000         # Serve /mjit.v1.CompileService on :9000\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if set["v"] {
		cfg.Log.Verbosity = *verbosity
	}
	if set["cache"] {
		cfg.Cache.Path = *cachePath
	}
	if set["port"] {
		cfg.Server.Port = *servePort
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	level := cfg.JIT.DumpLevel()
	if set["dump"] {
		if level, err = hir.ParseDumpLevel(*dump); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else if level == hir.DumpNone {
		level = hir.DumpWithoutSnapshot
	}
	// The CLI prints dumps itself; keep the compiler from logging them too.
	cfg.JIT.DumpHIR = hir.DumpNone.String()

	var st *store.Store
	if path := cfg.CachePath(); path != "" {
		if st, err = store.Open(path); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer st.Close()
	}

	compiler := jit.NewCompiler(jit.Options{Config: cfg.JIT, Store: st})
	defer compiler.Stop()

	if *serveMode {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := server.New(compiler).ListenAndServe(addr); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	paths := fs.Args()
	if len(paths) == 0 {
		fs.Usage()
		return 2
	}
	status := 0
	for _, path := range paths {
		if err := compileFile(compiler, path, level, *disasm, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			status = 1
		}
	}
	return status
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func compileFile(c *jit.Compiler, path string, level hir.DumpLevel, disasm bool, out io.Writer) error {
	uf, err := bytecode.LoadUnitFile(path)
	if err != nil {
		return err
	}
	types, err := profile.FromSamples(uf.Profile)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if disasm {
		fmt.Fprintf(out, "%s:\n%s\n", uf.Unit.Name, uf.Unit.Disassemble())
	}

	res, err := c.Translate(context.Background(), uf.Unit, types)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if text := res.Function.Dump(level); text != "" {
		fmt.Fprint(out, text)
		return nil
	}
	fmt.Fprintf(out, "%s: %d blocks, %d instructions\n", uf.Unit.Name, res.Function.NumBlocks(), res.Function.NumInsns())
	return nil
}
