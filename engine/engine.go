package engine

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/synth"
)

// Engine owns one wazero runtime with the threads proposal enabled, the
// shared memory hosted in it and a cache of compiled guest modules.
type Engine struct {
	runtime  wazero.Runtime
	cfg      *config.Config
	memory   *SharedMemory
	compiled map[[sha256.Size]byte]wazero.CompiledModule
	mu       sync.Mutex
}

// New creates an engine. A nil cfg uses config.Defaults().
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	if cfg.Engine.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.Engine.MemoryLimitPages)
	}
	if cfg.Engine.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	Logger().Debug("engine created",
		zap.Uint32("memory_limit_pages", cfg.Engine.MemoryLimitPages),
		zap.Bool("close_on_context_done", cfg.Engine.CloseOnContextDone))

	return &Engine{
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:      cfg,
		compiled: make(map[[sha256.Size]byte]wazero.CompiledModule),
	}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Close releases the runtime and every module instantiated in it,
// including the shared memory.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.memory = nil
	e.compiled = make(map[[sha256.Size]byte]wazero.CompiledModule)
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}

// Compile compiles wasm once per distinct content; later calls with the
// same bytes return the cached module.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	key := sha256.Sum256(wasm)

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.compiled[key]; ok {
		return c, nil
	}

	c, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile failed: %w", err)
	}
	e.compiled[key] = c

	Logger().Debug("module compiled",
		zap.Int("bytes", len(wasm)),
		zap.Int("imported_functions", len(c.ImportedFunctions())),
		zap.Int("exported_functions", len(c.ExportedFunctions())))
	return c, nil
}

// Imports is the per-instance part of the import table. The shared memory
// comes from the SharedMemory passed alongside it.
type Imports struct {
	// Signal receives the module's _post_signal calls.
	Signal SignalSink
}

// Instantiate creates one anonymous instance of wasm importing mem. Start
// functions other than the module's own start section are not run.
func (e *Engine) Instantiate(ctx context.Context, wasm []byte, mem *SharedMemory, imports Imports) (*Instance, error) {
	if mem == nil {
		return nil, errors.Instantiation(fmt.Errorf("no shared memory supplied"))
	}
	if mem.engine != e {
		return nil, errors.Instantiation(fmt.Errorf("shared memory belongs to another engine"))
	}
	if mem.env == nil {
		return nil, errors.Instantiation(fmt.Errorf("shared memory is closed"))
	}

	if err := e.checkMemoryImport(wasm, mem); err != nil {
		return nil, errors.Instantiation(err)
	}

	compiled, err := e.Compile(ctx, wasm)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	// The module's start section may already call imports.
	ctx = withSignalSink(ctx, imports.Signal)

	// Anonymous, so any number of threads can instantiate the same bytes.
	mod, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig(""))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	return &Instance{
		module: mod,
		memory: mem,
		sink:   imports.Signal,
	}, nil
}

// checkMemoryImport verifies that wasm imports the configured memory as a
// shared memory mem can satisfy.
func (e *Engine) checkMemoryImport(wasm []byte, mem *SharedMemory) error {
	imports, err := synth.ScanImports(wasm)
	if err != nil {
		return fmt.Errorf("read imports: %w", err)
	}

	want := e.cfg.Memory.Import
	for _, imp := range imports {
		if imp.Kind != synth.ExternMemory {
			continue
		}
		if imp.Module != want.Module || imp.Name != want.Name {
			return errors.NewMissingImportsError(errors.MissingImport{
				Module: want.Module, Name: want.Name, Kind: "memory",
			})
		}

		t := imp.Memory
		if t.Memory64 {
			return errors.TypeMismatch(errors.PhaseInstantiate, want.Module+"."+want.Name, "32-bit memory", "64-bit memory")
		}
		if !t.Shared {
			return errors.TypeMismatch(errors.PhaseInstantiate, want.Module+"."+want.Name, "shared memory", "unshared memory")
		}
		if pages := mem.Pages(); t.Min > uint64(pages) {
			return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
				Export(want.Module+"."+want.Name).
				Detail("module needs at least %d pages, shared memory has %d", t.Min, pages).
				Build()
		}
		if t.HasMax && t.Max < uint64(mem.maxPages) {
			return errors.New(errors.PhaseInstantiate, errors.KindTypeMismatch).
				Export(want.Module+"."+want.Name).
				Detail("module allows at most %d pages, shared memory may grow to %d", t.Max, mem.maxPages).
				Build()
		}
		return nil
	}

	return errors.NewMissingImportsError(errors.MissingImport{
		Module: want.Module, Name: want.Name, Kind: "memory",
	})
}

// moduleConfig names a module and disables the WASI _start convention.
func moduleConfig(name string) wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions()
}
