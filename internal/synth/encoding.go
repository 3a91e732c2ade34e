package synth

import (
	"github.com/tetratelabs/wazero/api"
)

// Section IDs used by the builders and the import scanner.
const (
	SectionType     byte = 0x01
	SectionImport   byte = 0x02
	SectionFunction byte = 0x03
	SectionMemory   byte = 0x05
	SectionGlobal   byte = 0x06
	SectionExport   byte = 0x07
	SectionCode     byte = 0x0a
)

// External kinds used in import and export entries.
const (
	ExternFunc   byte = 0x00
	ExternTable  byte = 0x01
	ExternMemory byte = 0x02
	ExternGlobal byte = 0x03
	ExternTag    byte = 0x04
)

// Limits flags.
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// Header is the wasm magic number followed by version 1.
var Header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// EncodeULEB128 encodes an unsigned value in LEB128 format.
func EncodeULEB128(v uint32) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}

// EncodeSLEB128 encodes a signed value in LEB128 format.
func EncodeSLEB128[T int32 | int64](v T) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			result = append(result, b)
			break
		}
		result = append(result, b|0x80)
	}
	return result
}

// ValTypeToWasm converts a wazero value type to WASM encoding.
func ValTypeToWasm(t api.ValueType) byte {
	switch t {
	case api.ValueTypeI32:
		return 0x7f
	case api.ValueTypeI64:
		return 0x7e
	case api.ValueTypeF32:
		return 0x7d
	case api.ValueTypeF64:
		return 0x7c
	default:
		return 0x7f
	}
}

// Name encodes a length-prefixed UTF-8 name.
func Name(s string) []byte {
	out := EncodeULEB128(uint32(len(s)))
	return append(out, s...)
}

// Section encodes a section with its size prefix.
func Section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, EncodeULEB128(uint32(len(body)))...)
	return append(out, body...)
}

// Limits encodes 32-bit limits. Shared memories always carry a maximum.
func Limits(min, max uint32, hasMax, shared bool) []byte {
	var flags byte
	if hasMax || shared {
		flags |= LimitsHasMax
	}
	if shared {
		flags |= LimitsShared
	}

	out := append([]byte{flags}, EncodeULEB128(min)...)
	if flags&LimitsHasMax != 0 {
		out = append(out, EncodeULEB128(max)...)
	}
	return out
}

// FuncType encodes a function type entry.
func FuncType(params, results []api.ValueType) []byte {
	out := []byte{0x60}
	out = append(out, EncodeULEB128(uint32(len(params)))...)
	for _, t := range params {
		out = append(out, ValTypeToWasm(t))
	}
	out = append(out, EncodeULEB128(uint32(len(results)))...)
	for _, t := range results {
		out = append(out, ValTypeToWasm(t))
	}
	return out
}
