// Package engine hosts threaded WebAssembly modules on wazero.
//
// An Engine owns one wazero runtime with the threads proposal enabled and at
// most one SharedMemory. The shared memory lives in a small generated module
// registered under the configured import module name (usually "env"), so
// every guest instance importing env.memory aliases the same bytes:
//
//	host module "wasm-threads:host"   Go implementation of post-signal
//	        |
//	env module "env"                  shared memory + re-exported _post_signal
//	        |
//	guest instances (anonymous)       one per thread, same compiled bytes
//
// Guest instances are anonymous, so the same module can be instantiated any
// number of times. The signal import is a single host function shared by all
// instances; each Instance binds its own SignalSink to the context of every
// call made through it, which routes signals back to the instance's owner.
//
// Instantiate checks the guest's memory import before linking: it must come
// from the configured module and name, be shared, and have limits the shared
// memory satisfies. Failures are reported as instantiation errors.
package engine
