package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/relay"
)

// Runtime loads threaded modules. Each loaded module gets its own engine,
// since an engine hosts exactly one shared memory.
type Runtime struct {
	cfg     *config.Config
	modules []*Module
	mu      sync.Mutex
	closed  bool
}

// New creates a runtime. A nil cfg uses config.Defaults().
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runtime{cfg: cfg}, nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Load compiles wasm and creates its shared memory. The bytes are kept and
// sent unchanged to every thread.
func (r *Runtime) Load(ctx context.Context, wasm []byte) (*Module, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.New(errors.PhaseLoad, errors.KindClosed).Detail("runtime closed").Build()
	}

	eng, err := engine.New(ctx, r.cfg)
	if err != nil {
		return nil, errors.Load("create engine", err)
	}

	if _, err := eng.Compile(ctx, wasm); err != nil {
		eng.Close(ctx)
		return nil, errors.Load("compile module", err)
	}

	mem, err := eng.NewSharedMemory(ctx, r.cfg.Memory.MinPages, r.cfg.Memory.MaxPages)
	if err != nil {
		eng.Close(ctx)
		return nil, errors.Load("create shared memory", err)
	}

	layout := NewLayout(r.cfg.Layout)
	if layout.Capacity(mem.Size()) == 0 {
		eng.Close(ctx)
		return nil, errors.New(errors.PhaseLoad, errors.KindOutOfBounds).
			Detail("no thread region fits in %d bytes of memory", mem.Size()).
			Build()
	}

	m := &Module{
		runtime: r,
		engine:  eng,
		memory:  mem,
		wasm:    append([]byte(nil), wasm...),
		layout:  layout,
		signals: relay.NewMailbox[ThreadSignal](),
	}

	r.mu.Lock()
	r.modules = append(r.modules, m)
	r.mu.Unlock()

	Logger().Info("module loaded",
		zap.Int("bytes", len(wasm)),
		zap.Uint32("memory_pages", mem.Pages()),
		zap.Int("thread_capacity", layout.Capacity(mem.Size())))
	return m, nil
}

// Close closes every loaded module and drops signals nobody received.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	modules := r.modules
	r.modules = nil
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for _, m := range modules {
		if err := m.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		m.discardSignals()
	}
	return firstErr
}
