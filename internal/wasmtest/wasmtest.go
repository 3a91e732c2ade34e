// Package wasmtest assembles small guest modules for tests.
//
// Imports must be declared before functions so function indices are stable:
//
//	m := wasmtest.New()
//	post := m.ImportFunc("env", "_post_signal", wasmtest.I32x2, nil)
//	m.ImportMemory("env", "memory", 1, 1, true)
//	sp := m.Global(api.ValueTypeI32, true, 0)
//	entry := m.Func(wasmtest.I32x1, nil,
//		wasmtest.I32Const(0), wasmtest.LocalGet(0), wasmtest.Call(post))
//	m.ExportGlobal("__stack_pointer", sp)
//	m.ExportFunc("wasm_thread_entrypoint", entry)
//	bin := m.Bytes()
package wasmtest

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-threads/internal/synth"
)

// Common signatures.
var (
	I32x1 = []api.ValueType{api.ValueTypeI32}
	I32x2 = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
)

type funcImport struct {
	module, name    string
	params, results []api.ValueType
}

type memImport struct {
	module, name string
	min, max     uint32
	shared       bool
}

type global struct {
	valType api.ValueType
	mutable bool
	init    int64
}

type function struct {
	params, results []api.ValueType
	body            []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

// Module is a guest module under construction.
type Module struct {
	memory  *memImport
	imports []funcImport
	globals []global
	funcs   []function
	exports []export
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

// ImportFunc declares a function import and returns its function index.
func (m *Module) ImportFunc(module, name string, params, results []api.ValueType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	m.imports = append(m.imports, funcImport{module, name, params, results})
	return uint32(len(m.imports) - 1)
}

// ImportMemory declares the memory import.
func (m *Module) ImportMemory(module, name string, min, max uint32, shared bool) {
	m.memory = &memImport{module, name, min, max, shared}
}

// Global defines a global and returns its index.
func (m *Module) Global(t api.ValueType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{t, mutable, init})
	return uint32(len(m.globals) - 1)
}

// Func defines a function from instruction fragments and returns its index.
func (m *Module) Func(params, results []api.ValueType, code ...[]byte) uint32 {
	var body []byte
	for _, c := range code {
		body = append(body, c...)
	}
	m.funcs = append(m.funcs, function{params, results, body})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// ExportFunc exports function idx.
func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, export{name, synth.ExternFunc, idx})
}

// ExportGlobal exports global idx.
func (m *Module) ExportGlobal(name string, idx uint32) {
	m.exports = append(m.exports, export{name, synth.ExternGlobal, idx})
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	wasm := append([]byte(nil), synth.Header...)

	numTypes := len(m.imports) + len(m.funcs)
	if numTypes > 0 {
		types := synth.EncodeULEB128(uint32(numTypes))
		for _, f := range m.imports {
			types = append(types, synth.FuncType(f.params, f.results)...)
		}
		for _, f := range m.funcs {
			types = append(types, synth.FuncType(f.params, f.results)...)
		}
		wasm = append(wasm, synth.Section(synth.SectionType, types)...)
	}

	numImports := len(m.imports)
	if m.memory != nil {
		numImports++
	}
	if numImports > 0 {
		imports := synth.EncodeULEB128(uint32(numImports))
		for i, f := range m.imports {
			imports = append(imports, synth.Name(f.module)...)
			imports = append(imports, synth.Name(f.name)...)
			imports = append(imports, synth.ExternFunc)
			imports = append(imports, synth.EncodeULEB128(uint32(i))...)
		}
		if mem := m.memory; mem != nil {
			imports = append(imports, synth.Name(mem.module)...)
			imports = append(imports, synth.Name(mem.name)...)
			imports = append(imports, synth.ExternMemory)
			imports = append(imports, synth.Limits(mem.min, mem.max, true, mem.shared)...)
		}
		wasm = append(wasm, synth.Section(synth.SectionImport, imports)...)
	}

	if len(m.funcs) > 0 {
		funcs := synth.EncodeULEB128(uint32(len(m.funcs)))
		for i := range m.funcs {
			funcs = append(funcs, synth.EncodeULEB128(uint32(len(m.imports)+i))...)
		}
		wasm = append(wasm, synth.Section(synth.SectionFunction, funcs)...)
	}

	if len(m.globals) > 0 {
		globals := synth.EncodeULEB128(uint32(len(m.globals)))
		for _, g := range m.globals {
			globals = append(globals, synth.ValTypeToWasm(g.valType))
			if g.mutable {
				globals = append(globals, 0x01)
			} else {
				globals = append(globals, 0x00)
			}
			if g.valType == api.ValueTypeI64 {
				globals = append(globals, 0x42)
				globals = append(globals, synth.EncodeSLEB128(g.init)...)
			} else {
				globals = append(globals, 0x41)
				globals = append(globals, synth.EncodeSLEB128(int32(g.init))...)
			}
			globals = append(globals, 0x0b)
		}
		wasm = append(wasm, synth.Section(synth.SectionGlobal, globals)...)
	}

	if len(m.exports) > 0 {
		exports := synth.EncodeULEB128(uint32(len(m.exports)))
		for _, e := range m.exports {
			exports = append(exports, synth.Name(e.name)...)
			exports = append(exports, e.kind)
			exports = append(exports, synth.EncodeULEB128(e.idx)...)
		}
		wasm = append(wasm, synth.Section(synth.SectionExport, exports)...)
	}

	if len(m.funcs) > 0 {
		code := synth.EncodeULEB128(uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := []byte{0x00} // no locals
			body = append(body, f.body...)
			body = append(body, 0x0b)
			code = append(code, synth.EncodeULEB128(uint32(len(body)))...)
			code = append(code, body...)
		}
		wasm = append(wasm, synth.Section(synth.SectionCode, code)...)
	}

	return wasm
}

// Instructions.

func LocalGet(i uint32) []byte  { return append([]byte{0x20}, synth.EncodeULEB128(i)...) }
func GlobalGet(i uint32) []byte { return append([]byte{0x23}, synth.EncodeULEB128(i)...) }
func GlobalSet(i uint32) []byte { return append([]byte{0x24}, synth.EncodeULEB128(i)...) }
func Call(i uint32) []byte      { return append([]byte{0x10}, synth.EncodeULEB128(i)...) }
func I32Const(v int32) []byte   { return append([]byte{0x41}, synth.EncodeSLEB128(v)...) }
func I32Add() []byte            { return []byte{0x6a} }
func Drop() []byte              { return []byte{0x1a} }
func Unreachable() []byte       { return []byte{0x00} }

// I32Load loads from [addr+offset] with natural alignment.
func I32Load(offset uint32) []byte {
	return append([]byte{0x28, 0x02}, synth.EncodeULEB128(offset)...)
}

// I32Store stores to [addr+offset] with natural alignment.
func I32Store(offset uint32) []byte {
	return append([]byte{0x36, 0x02}, synth.EncodeULEB128(offset)...)
}

// I32AtomicRMWAdd atomically adds to [addr+offset] and leaves the old value.
func I32AtomicRMWAdd(offset uint32) []byte {
	return append([]byte{0xfe, 0x1e, 0x02}, synth.EncodeULEB128(offset)...)
}
