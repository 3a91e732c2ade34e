// Package bridge wraps a brought-up thread instance for the code that
// drives it after bring-up.
//
// A Bridge composes an instance handle with an optional set of named
// operations. Invoke resolves a name against the operations first and falls
// back to the instance's exports, so worker-specific behavior is added by
// composition rather than by extending the Bridge type.
package bridge

import (
	"context"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
)

// Handle is the instance a Bridge wraps. *engine.Instance implements it.
type Handle interface {
	Memory() api.Memory
	Function(name string) api.Function
	Call(ctx context.Context, name string, args ...uint64) ([]uint64, error)
	Global(name string) (uint64, error)
	Close(ctx context.Context) error
}

var _ Handle = (*engine.Instance)(nil)

// Op is a named operation layered over the instance.
type Op func(ctx context.Context, b *Bridge, args ...uint64) ([]uint64, error)

// Option configures a Bridge.
type Option func(*Bridge)

// WithOp registers op under name. Ops shadow exports of the same name.
func WithOp(name string, op Op) Option {
	return func(b *Bridge) {
		b.ops[name] = op
	}
}

// Bridge is the post-bring-up view of one thread instance.
type Bridge struct {
	handle Handle
	ops    map[string]Op
	mu     sync.RWMutex
	closed bool
}

// New wraps h.
func New(h Handle, opts ...Option) *Bridge {
	b := &Bridge{
		handle: h,
		ops:    make(map[string]Op),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Memory returns a bounds-checked view of the instance's memory.
func (b *Bridge) Memory() wasmthreads.Memory {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return engine.WrapMemory(nil)
	}
	return engine.WrapMemory(b.handle.Memory())
}

// Call invokes an export. Traps are returned tagged with the export name.
func (b *Bridge) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed()
	}
	return b.call(ctx, name, args)
}

func (b *Bridge) call(ctx context.Context, name string, args []uint64) ([]uint64, error) {
	if b.handle.Function(name) == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	res, err := b.handle.Call(ctx, name, args...)
	if err != nil {
		return nil, errors.Trap(errors.PhaseRuntime, name, err)
	}
	return res, nil
}

// Global reads an exported global.
func (b *Bridge) Global(name string) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, errClosed()
	}
	return b.handle.Global(name)
}

// Invoke runs the op registered under name, or the export of that name.
func (b *Bridge) Invoke(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, errClosed()
	}
	op, ok := b.ops[name]
	if !ok {
		defer b.mu.RUnlock()
		return b.call(ctx, name, args)
	}
	b.mu.RUnlock()

	// Ops may call back into the bridge.
	return op(ctx, b, args...)
}

// Ops returns the registered op names in sorted order.
func (b *Bridge) Ops() []string {
	names := make([]string, 0, len(b.ops))
	for name := range b.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes the instance. Later calls fail; Close is idempotent.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.handle.Close(ctx)
}

func errClosed() *errors.Error {
	return errors.New(errors.PhaseRuntime, errors.KindClosed).
		Detail("bridge closed").
		Build()
}
