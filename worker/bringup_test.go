package worker

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/wasmtest"
	"github.com/wippyai/wasm-threads/relay"
)

// Memory cells the guest threads write.
const (
	cellTLS     = 0x00
	cellClosure = 0x04
	cellStack   = 0x08
	cellShared  = 0x0c
)

type guest struct {
	shared bool
	// tlsNoArg exports __wasm_init_tls without its pointer parameter.
	tlsNoArg bool
	// entry returns the entrypoint body given the signal import index and
	// the stack pointer global index.
	entry func(post, sp uint32) [][]byte
}

func (g guest) bytes() []byte {
	m := wasmtest.New()
	post := m.ImportFunc("env", "_post_signal", wasmtest.I32x2, nil)
	m.ImportMemory("env", "memory", 1, 1, g.shared)
	sp := m.Global(api.ValueTypeI32, true, 0)

	var tls uint32
	if g.tlsNoArg {
		tls = m.Func(nil, nil,
			wasmtest.I32Const(cellTLS), wasmtest.I32Const(1), wasmtest.I32Store(0))
	} else {
		tls = m.Func(wasmtest.I32x1, nil,
			wasmtest.I32Const(cellTLS), wasmtest.LocalGet(0), wasmtest.I32Store(0))
	}
	entry := m.Func(wasmtest.I32x1, nil, g.entry(post, sp)...)

	m.ExportGlobal("__stack_pointer", sp)
	m.ExportFunc("__wasm_init_tls", tls)
	m.ExportFunc("wasm_thread_entrypoint", entry)
	return m.Bytes()
}

// recordEntry stores the closure and stack pointer, then posts (0, 42).
func recordEntry(post, sp uint32) [][]byte {
	return [][]byte{
		wasmtest.I32Const(cellClosure), wasmtest.LocalGet(0), wasmtest.I32Store(0),
		wasmtest.I32Const(cellStack), wasmtest.GlobalGet(sp), wasmtest.I32Store(0),
		wasmtest.I32Const(0), wasmtest.I32Const(42), wasmtest.Call(post),
	}
}

// trapEntry posts twice and traps.
func trapEntry(post, _ uint32) [][]byte {
	return [][]byte{
		wasmtest.I32Const(0), wasmtest.I32Const(1), wasmtest.Call(post),
		wasmtest.I32Const(0), wasmtest.I32Const(2), wasmtest.Call(post),
		wasmtest.Unreachable(),
	}
}

// handoffEntry posts the value in the shared cell, then replaces it with
// the closure pointer.
func handoffEntry(post, _ uint32) [][]byte {
	return [][]byte{
		wasmtest.I32Const(0),
		wasmtest.I32Const(cellShared), wasmtest.I32Load(0),
		wasmtest.Call(post),
		wasmtest.I32Const(cellShared), wasmtest.LocalGet(0), wasmtest.I32Store(0),
	}
}

func newEngine(t *testing.T) (*engine.Engine, *engine.SharedMemory) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Defaults()
	cfg.Memory.MinPages, cfg.Memory.MaxPages = 1, 1

	e, err := engine.New(ctx, cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })

	mem, err := e.NewSharedMemory(ctx, 1, 1)
	if err != nil {
		t.Fatalf("NewSharedMemory: %v", err)
	}
	return e, mem
}

func TestBringUp_Scenario(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t)
	out := &outbox{}
	w := New(FromEngine(e), out)

	b, err := w.Handle(ctx, Message{
		Bytes:      guest{shared: true, entry: recordEntry}.bytes(),
		Memory:     mem,
		StackPtr:   0x10000,
		TLSPtr:     0x100,
		ClosurePtr: 0x200,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	defer b.Close(ctx)

	if got := out.get(); !reflect.DeepEqual(got, []relay.Signal{{Hi: 0, Lo: 42}}) {
		t.Errorf("signals = %v", got)
	}
	if w.State() != Running {
		t.Errorf("state = %s", w.State())
	}

	m := mem.Memory()
	for _, c := range []struct {
		name string
		addr uint32
		want uint32
	}{
		{"tls", cellTLS, 0x100},
		{"closure", cellClosure, 0x200},
		{"stack seen by entry", cellStack, 0x10000},
	} {
		if v, err := m.ReadU32(c.addr); err != nil || v != c.want {
			t.Errorf("%s cell = %#x, %v; want %#x", c.name, v, err, c.want)
		}
	}

	if sp, err := b.Global("__stack_pointer"); err != nil || sp != 0x10000 {
		t.Errorf("__stack_pointer = %#x, %v", sp, err)
	}
	if v, err := b.Memory().ReadU32(cellClosure); err != nil || v != 0x200 {
		t.Errorf("bridge memory view = %#x, %v", v, err)
	}
}

func TestBringUp_Step1Failures(t *testing.T) {
	tests := []struct {
		name string
		wasm []byte
	}{
		{"invalid bytes", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"unshared memory import", guest{shared: false, entry: recordEntry}.bytes()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e, mem := newEngine(t)
			out := &outbox{}
			w := New(FromEngine(e), out)

			b, err := w.Handle(ctx, Message{
				Bytes:      tt.wasm,
				Memory:     mem,
				StackPtr:   0x10000,
				TLSPtr:     0x100,
				ClosurePtr: 0x200,
			})
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseInstantiate, Kind: errors.KindInstantiation}) {
				t.Fatalf("err = %v", err)
			}
			if b != nil || w.Bridge() != nil {
				t.Error("no bridge expected")
			}
			if w.State() != Uninitialized || !w.Failed() {
				t.Errorf("state=%s failed=%v", w.State(), w.Failed())
			}
			if len(out.get()) != 0 {
				t.Error("no signals expected")
			}
			for _, addr := range []uint32{cellTLS, cellClosure, cellStack} {
				if v, _ := mem.Memory().ReadU32(addr); v != 0 {
					t.Errorf("memory at %#x changed to %#x", addr, v)
				}
			}
		})
	}
}

func TestBringUp_InitTLSSignature(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t)
	out := &outbox{}
	w := New(FromEngine(e), out)

	_, err := w.Handle(ctx, Message{
		Bytes:      guest{shared: true, tlsNoArg: true, entry: recordEntry}.bytes(),
		Memory:     mem,
		StackPtr:   0x10000,
		TLSPtr:     0x100,
		ClosurePtr: 0x200,
	})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseTLS, Kind: errors.KindTypeMismatch}) {
		t.Fatalf("err = %v", err)
	}
	if w.State() != StackSet || !w.Failed() {
		t.Errorf("state=%s failed=%v", w.State(), w.Failed())
	}
	if v, _ := mem.Memory().ReadU32(cellTLS); v != 0 {
		t.Errorf("__wasm_init_tls ran, tls cell = %#x", v)
	}
	if len(out.get()) != 0 {
		t.Error("entrypoint must not run")
	}
}

func TestBringUp_EntryTrapAfterSignals(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t)
	out := relay.NewMailbox[relay.Signal]()
	w := New(FromEngine(e), out)

	_, err := w.Handle(ctx, Message{
		Bytes:      guest{shared: true, entry: trapEntry}.bytes(),
		Memory:     mem,
		StackPtr:   0x10000,
		TLSPtr:     0x100,
		ClosurePtr: 0x200,
	})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseEntry, Kind: errors.KindTrap}) {
		t.Fatalf("err = %v", err)
	}
	out.Close()

	var got []relay.Signal
	for s := range out.C() {
		got = append(got, s)
	}
	if !reflect.DeepEqual(got, []relay.Signal{{Lo: 1}, {Lo: 2}}) {
		t.Errorf("signals = %v", got)
	}
	if w.State() != Running || !w.Failed() || w.Bridge() != nil {
		t.Errorf("state=%s failed=%v bridge=%v", w.State(), w.Failed(), w.Bridge())
	}
}

func TestBringUp_SharedMemoryBetweenWorkers(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t)
	wasm := guest{shared: true, entry: handoffEntry}.bytes()

	first, second := &outbox{}, &outbox{}
	wa := New(FromEngine(e), first, WithID(0))
	wb := New(FromEngine(e), second, WithID(1))

	ba, err := wa.Handle(ctx, Message{Bytes: wasm, Memory: mem, StackPtr: 0x8000, TLSPtr: 0x100, ClosurePtr: 111})
	if err != nil {
		t.Fatalf("worker 0: %v", err)
	}
	defer ba.Close(ctx)
	bb, err := wb.Handle(ctx, Message{Bytes: wasm, Memory: mem, StackPtr: 0xc000, TLSPtr: 0x200, ClosurePtr: 222})
	if err != nil {
		t.Fatalf("worker 1: %v", err)
	}
	defer bb.Close(ctx)

	if got := first.get(); !reflect.DeepEqual(got, []relay.Signal{{Lo: 0}}) {
		t.Errorf("worker 0 signals = %v", got)
	}
	if got := second.get(); !reflect.DeepEqual(got, []relay.Signal{{Lo: 111}}) {
		t.Errorf("worker 1 should see worker 0's write, got %v", got)
	}
	if v, _ := ba.Memory().ReadU32(cellShared); v != 222 {
		t.Errorf("worker 0 view of shared cell = %d, want 222", v)
	}

	// Each instance keeps its own globals.
	if sp, _ := ba.Global("__stack_pointer"); sp != 0x8000 {
		t.Errorf("worker 0 sp = %#x", sp)
	}
	if sp, _ := bb.Global("__stack_pointer"); sp != 0xc000 {
		t.Errorf("worker 1 sp = %#x", sp)
	}
}

func TestBringUp_RunOverChannel(t *testing.T) {
	ctx := context.Background()
	e, mem := newEngine(t)
	out := &outbox{}
	w := New(FromEngine(e), out)

	inbox := make(chan Message, 1)
	inbox <- Message{
		Bytes:      guest{shared: true, entry: recordEntry}.bytes(),
		Memory:     mem,
		StackPtr:   0x10000,
		TLSPtr:     0x100,
		ClosurePtr: 0x200,
	}

	b, err := w.Run(ctx, inbox)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer b.Close(ctx)
	if len(out.get()) != 1 {
		t.Errorf("signals = %v", out.get())
	}
}
