// Package synth assembles small WebAssembly modules and scans module imports.
package synth

import (
	"github.com/tetratelabs/wazero/api"
)

// EnvModuleBuilder builds the module that guest threads import their shared
// memory and host functions from. The memory is defined here, so every
// instance importing it aliases the same bytes. Host functions are imported
// from a Go host module and re-exported through local trampolines.
type EnvModuleBuilder struct {
	hostModuleName string
	memory         *envMemory
	funcs          []envFunc
}

type envMemory struct {
	exportName string
	min        uint32
	max        uint32
}

type envFunc struct {
	importName  string
	exportName  string
	paramTypes  []api.ValueType
	resultTypes []api.ValueType
}

// NewEnvModuleBuilder creates a builder importing functions from hostModuleName.
func NewEnvModuleBuilder(hostModuleName string) *EnvModuleBuilder {
	return &EnvModuleBuilder{hostModuleName: hostModuleName}
}

// SetSharedMemory defines a shared memory of min..max pages exported as exportName.
func (b *EnvModuleBuilder) SetSharedMemory(exportName string, min, max uint32) {
	b.memory = &envMemory{exportName: exportName, min: min, max: max}
}

// HasMemory returns true if a memory is configured.
func (b *EnvModuleBuilder) HasMemory() bool {
	return b.memory != nil
}

// AddFunc imports importName from the host module and re-exports it as exportName.
func (b *EnvModuleBuilder) AddFunc(importName, exportName string, params, results []api.ValueType) {
	b.funcs = append(b.funcs, envFunc{
		importName:  importName,
		exportName:  exportName,
		paramTypes:  params,
		resultTypes: results,
	})
}

// Build generates the WASM module bytes.
func (b *EnvModuleBuilder) Build() []byte {
	if len(b.funcs) == 0 && !b.HasMemory() {
		return nil
	}

	hasFuncs := len(b.funcs) > 0
	wasm := append([]byte(nil), Header...)

	if hasFuncs {
		wasm = append(wasm, Section(SectionType, b.buildTypeSection())...)
		wasm = append(wasm, Section(SectionImport, b.buildImportSection())...)
		wasm = append(wasm, Section(SectionFunction, b.buildFuncSection())...)
	}

	if b.HasMemory() {
		section := []byte{0x01}
		section = append(section, Limits(b.memory.min, b.memory.max, true, true)...)
		wasm = append(wasm, Section(SectionMemory, section)...)
	}

	wasm = append(wasm, Section(SectionExport, b.buildExportSection())...)

	if hasFuncs {
		wasm = append(wasm, Section(SectionCode, b.buildCodeSection())...)
	}

	return wasm
}

func (b *EnvModuleBuilder) buildTypeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for _, f := range b.funcs {
		section = append(section, FuncType(f.paramTypes, f.resultTypes)...)
	}
	return section
}

func (b *EnvModuleBuilder) buildImportSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		section = append(section, Name(b.hostModuleName)...)
		section = append(section, Name(f.importName)...)
		section = append(section, ExternFunc)
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *EnvModuleBuilder) buildFuncSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i := range b.funcs {
		section = append(section, EncodeULEB128(uint32(i))...)
	}
	return section
}

func (b *EnvModuleBuilder) buildExportSection() []byte {
	numExports := len(b.funcs)
	if b.HasMemory() {
		numExports++
	}
	section := EncodeULEB128(uint32(numExports))

	if b.HasMemory() {
		section = append(section, Name(b.memory.exportName)...)
		section = append(section, ExternMemory, 0x00)
	}

	// Trampolines follow the imported functions in the index space.
	numImports := len(b.funcs)
	for i, f := range b.funcs {
		section = append(section, Name(f.exportName)...)
		section = append(section, ExternFunc)
		section = append(section, EncodeULEB128(uint32(numImports+i))...)
	}

	return section
}

func (b *EnvModuleBuilder) buildCodeSection() []byte {
	section := EncodeULEB128(uint32(len(b.funcs)))
	for i, f := range b.funcs {
		body := b.buildFuncBody(i, f)
		section = append(section, EncodeULEB128(uint32(len(body)))...)
		section = append(section, body...)
	}
	return section
}

func (b *EnvModuleBuilder) buildFuncBody(importIdx int, f envFunc) []byte {
	body := []byte{0x00} // no locals

	for i := range f.paramTypes {
		body = append(body, 0x20) // local.get
		body = append(body, EncodeULEB128(uint32(i))...)
	}

	body = append(body, 0x10) // call
	body = append(body, EncodeULEB128(uint32(importIdx))...)
	body = append(body, 0x0b)

	return body
}
