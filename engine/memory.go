package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmthreads "github.com/wippyai/wasm-threads"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/synth"
)

// hostModuleName hosts the Go side of the signal import when the env module
// re-exports it.
const hostModuleName = "wasm-threads:host"

const hostPostSignal = "post-signal"

var signalParams = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}

// SharedMemory is the single shared linear memory of an engine together with
// the modules that export it and the signal import to guest instances.
type SharedMemory struct {
	engine   *Engine
	env      api.Module
	host     api.Module
	signal   api.Module
	mem      api.Memory
	minPages uint32
	maxPages uint32
}

// NewSharedMemory instantiates the configured memory import module with a
// shared memory of min..max pages. An engine holds at most one.
func (e *Engine) NewSharedMemory(ctx context.Context, min, max uint32) (*SharedMemory, error) {
	if min == 0 || max < min {
		return nil, errors.InvalidInput(errors.PhaseMemory,
			fmt.Sprintf("invalid shared memory limits min=%d max=%d", min, max))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.memory != nil {
		return nil, errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Detail("engine already has a shared memory").
			Build()
	}

	memImport := e.cfg.Memory.Import
	sigImport := e.cfg.Signal
	sm := &SharedMemory{engine: e, minPages: min, maxPages: max}

	env := synth.NewEnvModuleBuilder(hostModuleName)
	env.SetSharedMemory(memImport.Name, min, max)

	if sigImport.Module == memImport.Module {
		// The guest imports both from one namespace, so the env module
		// re-exports the host function.
		host, err := e.runtime.NewHostModuleBuilder(hostModuleName).
			NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(postSignal), signalParams, nil).
			Export(hostPostSignal).
			Instantiate(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMemory, errors.KindInstantiation, err, "instantiate host module")
		}
		sm.host = host
		env.AddFunc(hostPostSignal, sigImport.Name, signalParams, nil)
	} else {
		signal, err := e.runtime.NewHostModuleBuilder(sigImport.Module).
			NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(postSignal), signalParams, nil).
			Export(sigImport.Name).
			Instantiate(ctx)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMemory, errors.KindInstantiation, err, "instantiate signal module")
		}
		sm.signal = signal
	}

	compiled, err := e.runtime.CompileModule(ctx, env.Build())
	if err != nil {
		_ = sm.closeHost(ctx)
		return nil, errors.Wrap(errors.PhaseMemory, errors.KindInstantiation, err, "compile env module")
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig(memImport.Module))
	if err != nil {
		_ = sm.closeHost(ctx)
		return nil, errors.Wrap(errors.PhaseMemory, errors.KindInstantiation, err, "instantiate env module")
	}

	sm.env = mod
	sm.mem = mod.ExportedMemory(memImport.Name)
	if sm.mem == nil {
		_ = mod.Close(ctx)
		_ = sm.closeHost(ctx)
		return nil, errors.NotFound(errors.PhaseMemory, "memory export", memImport.Name)
	}
	e.memory = sm

	Logger().Debug("shared memory created",
		zap.String("module", memImport.Module),
		zap.String("name", memImport.Name),
		zap.Uint32("min_pages", min),
		zap.Uint32("max_pages", max))
	return sm, nil
}

// Engine returns the engine hosting the memory.
func (m *SharedMemory) Engine() *Engine {
	return m.engine
}

// API returns the underlying wazero memory.
func (m *SharedMemory) API() api.Memory {
	return m.mem
}

// Memory returns a bounds-checked view of the shared memory.
func (m *SharedMemory) Memory() wasmthreads.Memory {
	return WrapMemory(m.mem)
}

// Size returns the current size in bytes.
func (m *SharedMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// Pages returns the current size in pages.
func (m *SharedMemory) Pages() uint32 {
	return m.Size() / wasmthreads.PageSize
}

// MaxPages returns the maximum the memory was declared with.
func (m *SharedMemory) MaxPages() uint32 {
	return m.maxPages
}

// Close closes the env and host modules. Instances still importing the
// memory keep their reference to it.
func (m *SharedMemory) Close(ctx context.Context) error {
	var firstErr error
	if m.env != nil {
		firstErr = m.env.Close(ctx)
		m.env = nil
	}
	if err := m.closeHost(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	e := m.engine
	e.mu.Lock()
	if e.memory == m {
		e.memory = nil
	}
	e.mu.Unlock()
	return firstErr
}

func (m *SharedMemory) closeHost(ctx context.Context) error {
	var firstErr error
	for _, mod := range []*api.Module{&m.host, &m.signal} {
		if *mod == nil {
			continue
		}
		if err := (*mod).Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		*mod = nil
	}
	return firstErr
}

// Memory is a bounds-checked view over a wazero memory.
type Memory struct {
	mem api.Memory
}

// WrapMemory wraps mem. A nil mem yields a memory of size zero.
func WrapMemory(mem api.Memory) *Memory {
	return &Memory{mem: mem}
}

func (m *Memory) oob(offset, length uint32) error {
	return errors.OutOfBounds(errors.PhaseMemory, uint64(offset), uint64(length), uint64(m.Size()))
}

func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, m.oob(offset, length)
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.oob(offset, length)
	}
	return data, nil
}

func (m *Memory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return m.oob(offset, uint32(len(data)))
	}
	return nil
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	if m.mem == nil {
		return 0, m.oob(offset, 4)
	}
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, m.oob(offset, 4)
	}
	return val, nil
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	if m.mem == nil {
		return 0, m.oob(offset, 8)
	}
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, m.oob(offset, 8)
	}
	return val, nil
}

func (m *Memory) WriteU32(offset uint32, value uint32) error {
	if m.mem == nil || !m.mem.WriteUint32Le(offset, value) {
		return m.oob(offset, 4)
	}
	return nil
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	if m.mem == nil || !m.mem.WriteUint64Le(offset, value) {
		return m.oob(offset, 8)
	}
	return nil
}

func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var _ wasmthreads.Memory = (*Memory)(nil)
var _ wasmthreads.MemorySizer = (*Memory)(nil)
