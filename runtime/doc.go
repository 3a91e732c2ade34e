// Package runtime is a minimal orchestrator for threaded WebAssembly modules.
//
// # Quick Start
//
//	ctx := context.Background()
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
//	th, err := mod.Spawn(ctx, closurePtr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for s := range mod.Signals() {
//	        fmt.Println(s.Thread, s.Signal.Value())
//	    }
//	}()
//	err = mod.Wait()
//
// # Threads
//
// Load compiles the module once and creates its shared memory in a dedicated
// engine. Each Spawn carves a disjoint stack and TLS region out of that memory
// (see Layout), starts a worker goroutine and sends it its only bootstrap
// message. A thread is done when its entrypoint returns or its bring-up
// fails; Thread.Done, Thread.Err and Module.Wait report it. No signal is
// emitted on completion.
//
// # Signals
//
// Signals from all threads of a module are merged into one unbounded stream.
// Order is preserved per thread; there is no order across threads.
package runtime
