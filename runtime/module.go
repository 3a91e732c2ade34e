package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/bridge"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/relay"
	"github.com/wippyai/wasm-threads/worker"
)

// ThreadSignal is a signal tagged with the thread that posted it.
type ThreadSignal struct {
	Thread int `json:"thread"`
	relay.Signal
}

// Module is a loaded module and the threads spawned from it.
type Module struct {
	runtime *Runtime
	engine  *engine.Engine
	memory  *engine.SharedMemory
	layout  *Layout
	signals *relay.Mailbox[ThreadSignal]
	group   errgroup.Group
	wasm    []byte
	threads []*Thread
	mu      sync.Mutex
	closed  bool
}

// SpawnOption configures one thread.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	bridgeOpts []bridge.Option
}

// WithBridgeOptions passes opts to the thread's Bridge.
func WithBridgeOptions(opts ...bridge.Option) SpawnOption {
	return func(c *spawnConfig) {
		c.bridgeOpts = append(c.bridgeOpts, opts...)
	}
}

// Spawn starts a thread entering the module at closurePtr. It returns once
// the thread's bootstrap message is queued; bring-up runs on the thread's
// goroutine.
func (m *Module) Spawn(ctx context.Context, closurePtr uint32, opts ...SpawnOption) (*Thread, error) {
	var sc spawnConfig
	for _, opt := range opts {
		opt(&sc)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New(errors.PhaseRuntime, errors.KindClosed).Detail("module closed").Build()
	}
	region, err := m.layout.Next(m.memory.Size())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	id := len(m.threads)

	out := relay.OutboxFunc(func(s relay.Signal) {
		m.signals.Post(ThreadSignal{Thread: id, Signal: s})
	})
	w := worker.New(worker.FromEngine(m.engine), out,
		worker.WithID(id),
		worker.WithExports(m.runtime.cfg.Exports),
		worker.WithBridgeOptions(sc.bridgeOpts...),
	)
	t := newThread(id, region, w)
	m.threads = append(m.threads, t)
	m.mu.Unlock()

	inbox := make(chan worker.Message, 1)
	inbox <- worker.Message{
		Bytes:      m.wasm,
		Memory:     m.memory,
		StackPtr:   region.StackPtr,
		TLSPtr:     region.TLSPtr,
		ClosurePtr: closurePtr,
	}
	close(inbox)

	Logger().Debug("thread spawned",
		zap.Int("thread", id),
		zap.Uint32("stack_ptr", region.StackPtr),
		zap.Uint32("tls_ptr", region.TLSPtr),
		zap.Uint32("closure_ptr", closurePtr))

	m.group.Go(func() error {
		b, err := w.Run(ctx, inbox)
		t.finish(b, err)
		if err != nil {
			Logger().Warn("thread failed", zap.Int("thread", id), zap.Error(err))
		}
		return err
	})
	return t, nil
}

// Signals returns the merged signal stream. It is closed after Close once
// every queued signal has been received, or when the Runtime closes, which
// drops whatever is still queued.
func (m *Module) Signals() <-chan ThreadSignal {
	return m.signals.C()
}

// Memory returns a bounds-checked view of the shared memory.
func (m *Module) Memory() wasmthreads.Memory {
	return m.memory.Memory()
}

// SharedMemory returns the module's shared memory.
func (m *Module) SharedMemory() *engine.SharedMemory {
	return m.memory
}

// Layout returns the region allocator.
func (m *Module) Layout() *Layout {
	return m.layout
}

// Threads returns the spawned threads in spawn order.
func (m *Module) Threads() []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Thread(nil), m.threads...)
}

// Wait blocks until every spawned thread is done and returns the first
// bring-up error.
func (m *Module) Wait() error {
	return m.group.Wait()
}

// Close closes the threads' bridges, the engine and the signal stream.
// Threads still running module code are stopped only if the engine closes
// on context done; otherwise Close does not wait for them.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	threads := m.threads
	m.mu.Unlock()

	for _, t := range threads {
		if b := t.Bridge(); b != nil {
			b.Close(ctx)
		}
	}
	m.signals.Close()

	Logger().Debug("module closed",
		zap.Int("threads", len(threads)),
		zap.Int("undelivered_signals", m.signals.Len()))
	return m.engine.Close(ctx)
}

// discardSignals releases the signal stream without waiting for a reader.
func (m *Module) discardSignals() {
	if n := m.signals.Len(); n > 0 {
		Logger().Debug("signals discarded", zap.Int("count", n))
	}
	m.signals.Discard()
}
