// Package wasmthreads runs one WebAssembly module as several threads that
// share a single linear memory.
//
// An orchestrator compiles the module once and spawns worker goroutines. Each
// worker receives the same module bytes, a handle to the shared memory and
// three per-thread pointers, re-instantiates the module against that memory
// and brings the thread up in a fixed order:
//
//	1. instantiate against the shared memory (with the _post_signal import)
//	2. write __stack_pointer
//	3. call __wasm_init_tls(tls_ptr)
//	4. call wasm_thread_entrypoint(closure_ptr)
//
// Code running inside a thread reports 64-bit signals through the
// _post_signal(hi, lo) import; they are relayed to the orchestrator as
// {signal_hi, signal_lo} pairs, in call order per thread.
//
// # Architecture Overview
//
//	wasmthreads/        Root package with the Memory interfaces
//	├── runtime/        Minimal orchestrator: load once, spawn threads, collect signals
//	├── worker/         Worker-side bootstrap and bring-up state machine
//	├── bridge/         Post-bring-up wrapper exposing exports and memory
//	├── relay/          Signal type, relay and outbound mailboxes
//	├── engine/         wazero integration and the shared "env" module
//	├── config/         YAML configuration
//	└── errors/         Structured error types
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, config.Defaults())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for s := range mod.Signals() {
//	        fmt.Println(s.Thread, s.Signal.Value())
//	    }
//	}()
//
//	if _, err := mod.Spawn(ctx, closurePtr); err != nil {
//	    log.Fatal(err)
//	}
//	err = mod.Wait()
//
// # Thread Safety
//
// Runtime and Module are safe for concurrent use. A worker's instance is
// owned by its goroutine; the shared memory is the only state touched by
// several threads, and arbitrating it is the guest's job.
package wasmthreads
