package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-threads/errors"
)

// Instance is one guest module instance bound to the engine's shared memory.
// Calls made through it carry the instance's signal sink.
type Instance struct {
	module api.Module
	memory *SharedMemory
	sink   SignalSink
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// SharedMemory returns the memory the instance imports.
func (i *Instance) SharedMemory() *SharedMemory {
	return i.memory
}

// Memory returns the instance's view of the shared memory.
func (i *Instance) Memory() api.Memory {
	if i.module == nil {
		return nil
	}
	return i.module.Memory()
}

// Global returns the current value of an exported global.
func (i *Instance) Global(name string) (uint64, error) {
	if i.module == nil {
		return 0, errors.NotInitialized(errors.PhaseRuntime, "instance")
	}
	g := i.module.ExportedGlobal(name)
	if g == nil {
		return 0, errors.NotFound(errors.PhaseRuntime, "global", name)
	}
	return g.Get(), nil
}

// SetGlobal writes an exported mutable i32 global.
func (i *Instance) SetGlobal(name string, v uint32) error {
	if i.module == nil {
		return errors.NotInitialized(errors.PhaseStack, "instance")
	}
	g := i.module.ExportedGlobal(name)
	if g == nil {
		return errors.MissingExport(errors.PhaseStack, name)
	}
	if g.Type() != api.ValueTypeI32 {
		return errors.TypeMismatch(errors.PhaseStack, name, "i32", api.ValueTypeName(g.Type()))
	}
	mg, ok := g.(api.MutableGlobal)
	if !ok {
		return errors.TypeMismatch(errors.PhaseStack, name, "mutable global", "immutable global")
	}
	mg.Set(api.EncodeU32(v))
	return nil
}

// Function returns an exported function, or nil.
func (i *Instance) Function(name string) api.Function {
	if i.module == nil {
		return nil
	}
	return i.module.ExportedFunction(name)
}

// Call invokes an exported function. Guest traps are returned as the wazero
// error; callers tag them with their phase.
func (i *Instance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := i.Function(name)
	if fn == nil {
		return nil, fmt.Errorf("function %q not found", name)
	}
	return fn.Call(i.prepareCallContext(ctx), args...)
}

// prepareCallContext binds the instance's signal sink so the shared host
// function can route signals back to this instance's owner.
func (i *Instance) prepareCallContext(ctx context.Context) context.Context {
	return withSignalSink(ctx, i.sink)
}

// Close closes the module instance. The shared memory stays alive.
func (i *Instance) Close(ctx context.Context) error {
	if i.module == nil {
		return nil
	}
	err := i.module.Close(ctx)
	i.module = nil
	return err
}
