package synth

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

func TestEncodeULEB128(t *testing.T) {
	tests := []struct {
		want []byte
		v    uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0x80, 0x80, 0x04}, 0x10000},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xffffffff},
	}
	for _, tt := range tests {
		got := EncodeULEB128(tt.v)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeULEB128(%d) = %x, want %x", tt.v, got, tt.want)
		}
		r := NewReader(got)
		v, err := r.ReadU32()
		if err != nil || v != tt.v || r.Len() != 0 {
			t.Errorf("ReadU32(%x) = %d, %v (%d left)", got, v, err, r.Len())
		}
	}

	if _, err := NewReader([]byte{0x80}).ReadU32(); err == nil {
		t.Error("truncated value should fail")
	}
	if _, err := NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}).ReadU32(); err == nil {
		t.Error("overlong value should fail")
	}
}

func TestEncodeSLEB128(t *testing.T) {
	tests := []struct {
		want []byte
		v    int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x2a}, 42},
		{[]byte{0x7f}, -1},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x80, 0x80, 0x04}, 0x10000},
	}
	for _, tt := range tests {
		if got := EncodeSLEB128(tt.v); !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeSLEB128(%d) = %x, want %x", tt.v, got, tt.want)
		}
	}
}

func TestLimits(t *testing.T) {
	if got := Limits(1, 2, true, true); !bytes.Equal(got, []byte{0x03, 0x01, 0x02}) {
		t.Errorf("shared = %x", got)
	}
	if got := Limits(1, 2, true, false); !bytes.Equal(got, []byte{0x01, 0x01, 0x02}) {
		t.Errorf("bounded = %x", got)
	}
	if got := Limits(1, 0, false, false); !bytes.Equal(got, []byte{0x00, 0x01}) {
		t.Errorf("unbounded = %x", got)
	}
}

func TestEnvModuleBuilder_EmptyBuildsNothing(t *testing.T) {
	if NewEnvModuleBuilder("host").Build() != nil {
		t.Error("empty builder should produce no module")
	}
}

func TestEnvModuleBuilder_Instantiates(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2|experimental.CoreFeaturesThreads))
	defer rt.Close(ctx)

	var calls [][2]uint32
	_, err := rt.NewHostModuleBuilder("host").
		NewFunctionBuilder().
		WithGoFunction(api.GoFunc(func(ctx context.Context, stack []uint64) {
			calls = append(calls, [2]uint32{api.DecodeU32(stack[0]), api.DecodeU32(stack[1])})
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("post").
		Instantiate(ctx)
	if err != nil {
		t.Fatalf("host module: %v", err)
	}

	b := NewEnvModuleBuilder("host")
	b.SetSharedMemory("memory", 1, 2)
	b.AddFunc("post", "_post_signal", []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil)

	mod, err := rt.InstantiateWithConfig(ctx, b.Build(), wazero.NewModuleConfig().WithName("env"))
	if err != nil {
		t.Fatalf("instantiate env module: %v", err)
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		t.Fatal("memory not exported")
	}
	if mem.Size() != 65536 {
		t.Errorf("memory size = %d, want one page", mem.Size())
	}

	fn := mod.ExportedFunction("_post_signal")
	if fn == nil {
		t.Fatal("_post_signal not exported")
	}
	if _, err := fn.Call(ctx, 7, 42); err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(calls) != 1 || calls[0] != [2]uint32{7, 42} {
		t.Errorf("host calls = %v", calls)
	}
}

func importSection(entries ...[]byte) []byte {
	body := EncodeULEB128(uint32(len(entries)))
	for _, e := range entries {
		body = append(body, e...)
	}
	return append(append([]byte(nil), Header...), Section(SectionImport, body)...)
}

func entry(module, name string, kind byte, desc ...byte) []byte {
	out := append(Name(module), Name(name)...)
	out = append(out, kind)
	return append(out, desc...)
}

func TestScanImports(t *testing.T) {
	wasm := importSection(
		entry("env", "_post_signal", ExternFunc, 0x00),
		entry("env", "table", ExternTable, append([]byte{0x70}, Limits(1, 0, false, false)...)...),
		entry("env", "memory", ExternMemory, Limits(17, 16384, true, true)...),
		entry("env", "g", ExternGlobal, 0x7f, 0x01),
	)

	imports, err := ScanImports(wasm)
	if err != nil {
		t.Fatalf("ScanImports: %v", err)
	}
	if len(imports) != 4 {
		t.Fatalf("got %d imports", len(imports))
	}
	if imports[0].Kind != ExternFunc || imports[0].Name != "_post_signal" {
		t.Errorf("import 0 = %+v", imports[0])
	}
	mem := imports[2].Memory
	if mem == nil {
		t.Fatal("memory import not decoded")
	}
	if mem.Min != 17 || mem.Max != 16384 || !mem.HasMax || !mem.Shared {
		t.Errorf("memory = %+v", *mem)
	}
	if imports[3].Module != "env" || imports[3].Name != "g" {
		t.Errorf("import 3 = %+v", imports[3])
	}
}

func TestScanImports_Malformed(t *testing.T) {
	tests := []struct {
		name string
		wasm []byte
	}{
		{"not wasm", []byte("hello world")},
		{"short", []byte{0x00, 0x61}},
		{"section overrun", append(append([]byte(nil), Header...), SectionImport, 0x10, 0x01)},
		{"truncated entry", importSection([]byte{0x03, 'e', 'n'})},
		{"unknown kind", importSection(entry("env", "x", 0x09))},
		{"min above max", importSection(entry("env", "memory", ExternMemory, 0x01, 0x04, 0x02))},
		{"invalid utf-8 name", importSection(entry("env", "\xff", ExternFunc, 0x00))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ScanImports(tt.wasm); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScanImports_Memory64AndTag(t *testing.T) {
	wasm := importSection(
		entry("env", "tag", ExternTag, 0x00, 0x01),
		entry("env", "memory", ExternMemory, LimitsHasMax|LimitsMemory64, 0x02, 0x80, 0x01),
	)

	imports, err := ScanImports(wasm)
	if err != nil {
		t.Fatalf("ScanImports: %v", err)
	}
	if len(imports) != 2 {
		t.Fatalf("got %d imports", len(imports))
	}
	mem := imports[1].Memory
	if mem == nil || !mem.Memory64 || mem.Shared || mem.Min != 2 || mem.Max != 128 {
		t.Errorf("memory = %+v", mem)
	}
}

func TestScanImports_SkipsEarlierSections(t *testing.T) {
	wasm := append([]byte(nil), Header...)
	wasm = append(wasm, Section(SectionType, append([]byte{0x01}, FuncType(nil, nil)...))...)
	wasm = append(wasm, importSection(entry("env", "memory", ExternMemory, Limits(1, 1, true, true)...))[len(Header):]...)

	imports, err := ScanImports(wasm)
	if err != nil {
		t.Fatalf("ScanImports: %v", err)
	}
	if len(imports) != 1 || imports[0].Memory == nil || !imports[0].Memory.Shared {
		t.Errorf("imports = %+v", imports)
	}
}

func TestScanImports_NoImportSection(t *testing.T) {
	imports, err := ScanImports(Header)
	if err != nil {
		t.Fatalf("ScanImports: %v", err)
	}
	if len(imports) != 0 {
		t.Errorf("imports = %v", imports)
	}
}
