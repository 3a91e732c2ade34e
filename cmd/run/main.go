package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/internal/tracer"
	"github.com/wippyai/wasm-threads/runtime"
	"github.com/wippyai/wasm-threads/worker"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to threaded wasm module")
		configFile  = flag.String("config", "", "YAML config file (optional)")
		threads     = flag.Int("threads", 1, "Number of threads to spawn")
		closures    = flag.String("closure", "0", "Entrypoint closure pointers (comma-separated, last one repeats)")
		jsonOut     = flag.Bool("json", false, "Print signals as JSON lines")
		logLevel    = flag.String("log-level", "", "Override log level (debug, info, warn, error)")
		interactive = flag.Bool("i", false, "Interactive signal monitor (TUI)")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-threads n] [-closure ptr,...] [-config file.yaml] [-json]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg := config.Defaults()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	ptrs, err := parseClosures(*closures)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal, falling back to plain output")
		*interactive = false
	}

	// The TUI owns the terminal, so logs are discarded there.
	log, err := buildLogger(cfg.Log, *interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	engine.SetLogger(log.Named("engine"))
	worker.SetLogger(log.Named("worker"))
	runtime.SetLogger(log.Named("runtime"))

	ctx := context.Background()
	shutdown, err := tracer.Setup(ctx, cfg.Tracer, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	if *interactive {
		err = runInteractive(*wasmFile, cfg, *threads, ptrs)
	} else {
		err = run(ctx, *wasmFile, cfg, *threads, ptrs, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, wasmFile string, cfg *config.Config, threads int, ptrs []uint32, jsonOut bool) error {
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	mod, err := rt.Load(ctx, data)
	if err != nil {
		return fmt.Errorf("load module: %w", err)
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		enc := json.NewEncoder(os.Stdout)
		for s := range mod.Signals() {
			if jsonOut {
				enc.Encode(s)
				continue
			}
			fmt.Printf("thread %d: signal hi=%#x lo=%#x (%d)\n", s.Thread, s.Hi, s.Lo, s.Value())
		}
	}()

	for i := 0; i < threads; i++ {
		if _, err := mod.Spawn(ctx, closureFor(ptrs, i)); err != nil {
			return fmt.Errorf("spawn thread %d: %w", i, err)
		}
	}

	waitErr := mod.Wait()
	if err := mod.Close(ctx); err != nil {
		return fmt.Errorf("close module: %w", err)
	}
	<-printed

	if !jsonOut {
		for _, th := range mod.Threads() {
			status := "ok"
			if th.Failed() {
				status = "failed: " + th.Err().Error()
			}
			fmt.Printf("thread %d: %s, %d signal(s), %s\n", th.ID(), th.State(), th.Signals(), status)
		}
	}
	return waitErr
}

func parseClosures(s string) ([]uint32, error) {
	var ptrs []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid closure pointer %q: %w", part, err)
		}
		ptrs = append(ptrs, uint32(v))
	}
	if len(ptrs) == 0 {
		return []uint32{0}, nil
	}
	return ptrs, nil
}

// closureFor returns the pointer for thread i; the last pointer repeats.
func closureFor(ptrs []uint32, i int) uint32 {
	if i < len(ptrs) {
		return ptrs[i]
	}
	return ptrs[len(ptrs)-1]
}

func buildLogger(cfg config.Log, discard bool) (*zap.Logger, error) {
	if discard {
		return zap.NewNop(), nil
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}
