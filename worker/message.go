package worker

import (
	"context"

	"github.com/wippyai/wasm-threads/bridge"
	"github.com/wippyai/wasm-threads/engine"
)

// Message is the bootstrap message a worker receives exactly once.
// The pointers are offsets into Memory chosen by the orchestrator; the
// worker passes them through without validating them.
type Message struct {
	Bytes      []byte
	Memory     *engine.SharedMemory
	StackPtr   uint32
	TLSPtr     uint32
	ClosurePtr uint32
}

// Instance is an instantiated module as the worker drives it.
type Instance interface {
	bridge.Handle
	SetGlobal(name string, v uint32) error
}

// Instantiator creates the worker's module instance (step 1).
type Instantiator interface {
	Instantiate(ctx context.Context, wasm []byte, mem *engine.SharedMemory, imports engine.Imports) (Instance, error)
}

// InstantiatorFunc adapts a function to Instantiator.
type InstantiatorFunc func(ctx context.Context, wasm []byte, mem *engine.SharedMemory, imports engine.Imports) (Instance, error)

func (f InstantiatorFunc) Instantiate(ctx context.Context, wasm []byte, mem *engine.SharedMemory, imports engine.Imports) (Instance, error) {
	return f(ctx, wasm, mem, imports)
}

// FromEngine instantiates through e.
func FromEngine(e *engine.Engine) Instantiator {
	return InstantiatorFunc(func(ctx context.Context, wasm []byte, mem *engine.SharedMemory, imports engine.Imports) (Instance, error) {
		inst, err := e.Instantiate(ctx, wasm, mem, imports)
		if err != nil {
			return nil, err
		}
		return inst, nil
	})
}

var _ Instance = (*engine.Instance)(nil)
