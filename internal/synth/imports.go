package synth

import (
	"bytes"
	"fmt"
)

// MemoryType describes an imported memory.
type MemoryType struct {
	Min      uint64
	Max      uint64
	HasMax   bool
	Shared   bool
	Memory64 bool
}

// Import is one entry of a module's import section.
type Import struct {
	Memory *MemoryType // set for ExternMemory
	Module string
	Name   string
	Kind   byte
}

// ScanImports walks the import section of a binary module. wazero does not
// report whether an imported memory is shared, so the raw section is read.
func ScanImports(wasm []byte) ([]Import, error) {
	if len(wasm) < len(Header) || !bytes.Equal(wasm[:4], Header[:4]) {
		return nil, fmt.Errorf("not a wasm binary")
	}

	r := NewReader(wasm[len(Header):])
	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, fmt.Errorf("section %d header: %w", sectionID, err)
		}
		if int(size) > r.Len() {
			return nil, fmt.Errorf("section %d overruns module (%d > %d)", sectionID, size, r.Len())
		}

		if sectionID == SectionImport {
			body, err := r.ReadBytes(int(size))
			if err != nil {
				return nil, err
			}
			return parseImportSection(NewReader(body))
		}
		if err := r.Skip(int(size)); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func parseImportSection(r *Reader) ([]Import, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}

	imports := make([]Import, 0, min(int(count), r.Len()))
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		name, err := r.ReadName()
		if err != nil {
			return nil, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		imp := Import{Module: module, Name: name, Kind: kind}

		switch kind {
		case ExternFunc:
			if _, err := r.ReadU32(); err != nil { // type index
				return nil, err
			}
		case ExternTable:
			if _, err := r.ReadByte(); err != nil { // reftype
				return nil, err
			}
			if _, err := readLimits(r); err != nil {
				return nil, err
			}
		case ExternMemory:
			memory, err := readLimits(r)
			if err != nil {
				return nil, err
			}
			imp.Memory = &memory
		case ExternGlobal:
			if _, err := r.ReadBytes(2); err != nil { // valtype, mutability
				return nil, err
			}
		case ExternTag:
			if _, err := r.ReadByte(); err != nil { // attribute
				return nil, err
			}
			if _, err := r.ReadU32(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("import %s.%s: unknown kind %#x", module, name, kind)
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

func readLimits(r *Reader) (MemoryType, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return MemoryType{}, err
	}

	l := MemoryType{
		HasMax:   flags&LimitsHasMax != 0,
		Shared:   flags&LimitsShared != 0,
		Memory64: flags&LimitsMemory64 != 0,
	}

	if l.Memory64 {
		if l.Min, err = r.ReadU64(); err != nil {
			return MemoryType{}, err
		}
		if l.HasMax {
			if l.Max, err = r.ReadU64(); err != nil {
				return MemoryType{}, err
			}
		}
	} else {
		minVal, err := r.ReadU32()
		if err != nil {
			return MemoryType{}, err
		}
		l.Min = uint64(minVal)
		if l.HasMax {
			maxVal, err := r.ReadU32()
			if err != nil {
				return MemoryType{}, err
			}
			l.Max = uint64(maxVal)
		}
	}

	if l.HasMax && l.Min > l.Max {
		return MemoryType{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, l.Max)
	}
	return l, nil
}
