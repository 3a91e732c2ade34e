// Package errors provides structured error types for wasm-threads.
//
// Errors are categorized by Phase (which bring-up step or subsystem failed)
// and Kind (error category). The Error type carries the export name involved,
// a detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTLS, errors.KindTrap).
//		Export("__wasm_init_tls").
//		Detail("tls_ptr=%#x", tlsPtr).
//		Cause(callErr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingExport(errors.PhaseStack, "__stack_pointer")
//	err := errors.Instantiation(cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
