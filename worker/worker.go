// Package worker brings up one thread of a threaded WebAssembly module.
//
// A Worker receives a single bootstrap Message, instantiates the module
// against the shared memory with its Relay as the signal import, assigns
// the thread's stack pointer, initializes its TLS block and enters the
// thread entrypoint, strictly in that order. Any failure is fatal: the
// instance is closed and the phase-tagged error returned.
package worker

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-threads/bridge"
	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/engine"
	"github.com/wippyai/wasm-threads/errors"
	"github.com/wippyai/wasm-threads/internal/tracer"
	"github.com/wippyai/wasm-threads/relay"
)

// Option configures a Worker.
type Option func(*Worker)

// WithExports overrides the bring-up export names.
func WithExports(exports config.Exports) Option {
	return func(w *Worker) {
		w.exports = exports
	}
}

// WithLogger sets the worker's logger instead of the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Worker) {
		w.log = l
	}
}

// WithID tags logs and spans with a thread id.
func WithID(id int) Option {
	return func(w *Worker) {
		w.id = id
	}
}

// WithBridgeOptions passes opts to the Bridge created after bring-up.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(w *Worker) {
		w.bridgeOpts = append(w.bridgeOpts, opts...)
	}
}

// Worker is the bootstrap of one thread.
type Worker struct {
	inst       Instantiator
	relay      *relay.Relay
	log        *zap.Logger
	bridge     atomic.Pointer[bridge.Bridge]
	exports    config.Exports
	bridgeOpts []bridge.Option
	id         int
	state      atomic.Int32
	handled    atomic.Bool
	failed     atomic.Bool
}

// New creates a worker. Its relay posts to out and exists before any
// instance does.
func New(inst Instantiator, out relay.Outbox, opts ...Option) *Worker {
	w := &Worker{
		inst:    inst,
		relay:   relay.New(out),
		exports: config.Defaults().Exports,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = Logger()
	}
	w.log = w.log.With(zap.Int("thread", w.id))
	return w
}

// ID returns the worker's thread id.
func (w *Worker) ID() int {
	return w.id
}

// State returns the last bring-up state reached.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Failed reports whether bring-up failed.
func (w *Worker) Failed() bool {
	return w.failed.Load()
}

// Relay returns the worker's signal relay.
func (w *Worker) Relay() *relay.Relay {
	return w.relay
}

// Bridge returns the bridge, or nil until the entrypoint has returned.
func (w *Worker) Bridge() *bridge.Bridge {
	return w.bridge.Load()
}

// Run waits for the first message on inbox and handles it. Waiting is the
// only point where ctx is observed before bring-up starts; a bring-up in
// progress is not cancelled by Run.
func (w *Worker) Run(ctx context.Context, inbox <-chan Message) (*bridge.Bridge, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-inbox:
		if !ok {
			return nil, errors.ProtocolViolation("inbox closed before bootstrap message")
		}
		return w.Handle(ctx, msg)
	}
}

// Handle performs the bring-up for msg. Only the first call does anything;
// later calls return a protocol violation without side effects.
func (w *Worker) Handle(ctx context.Context, msg Message) (*bridge.Bridge, error) {
	if !w.handled.CompareAndSwap(false, true) {
		w.log.Warn("bootstrap message ignored, worker already bootstrapped",
			zap.Stringer("state", w.State()))
		return nil, errors.ProtocolViolation("worker already received its bootstrap message")
	}

	ctx, span := tracer.StartSpan(ctx, "worker.bootstrap", trace.WithAttributes(
		tracer.IntAttr("thread", w.id),
		tracer.IntAttr("module_bytes", len(msg.Bytes)),
		tracer.PtrAttr("stack_ptr", msg.StackPtr),
		tracer.PtrAttr("tls_ptr", msg.TLSPtr),
		tracer.PtrAttr("closure_ptr", msg.ClosurePtr),
		tracer.StringAttr("entrypoint", w.exports.Entrypoint),
	))
	defer span.End()

	b, err := w.bringUp(ctx, span, msg)
	if err != nil {
		w.failed.Store(true)
		tracer.RecordError(span, err)
		w.log.Error("thread bring-up failed",
			zap.Stringer("state", w.State()),
			zap.Uint64("signals", w.relay.Count()),
			zap.Error(err))
		return nil, err
	}

	tracer.SetOK(span)
	w.log.Debug("thread entrypoint returned", zap.Uint64("signals", w.relay.Count()))
	return b, nil
}

func (w *Worker) bringUp(ctx context.Context, span trace.Span, msg Message) (*bridge.Bridge, error) {
	// Step 1: instantiate with the relay bound as the signal import.
	inst, err := w.inst.Instantiate(ctx, msg.Bytes, msg.Memory, engine.Imports{Signal: w.relay})
	if err != nil {
		return nil, tag(errors.PhaseInstantiate, "", err)
	}
	w.advance(span, Instantiated)

	fail := func(err error) (*bridge.Bridge, error) {
		if cerr := inst.Close(context.WithoutCancel(ctx)); cerr != nil {
			w.log.Debug("close failed instance", zap.Error(cerr))
		}
		return nil, err
	}

	// Step 2: assign the thread's stack.
	if err := inst.SetGlobal(w.exports.StackPointer, msg.StackPtr); err != nil {
		return fail(tag(errors.PhaseStack, w.exports.StackPointer, err))
	}
	w.advance(span, StackSet)

	// Step 3: initialize the TLS block.
	if err := checkPointerFunc(errors.PhaseTLS, w.exports.InitTLS, inst.Function(w.exports.InitTLS)); err != nil {
		return fail(err)
	}
	if _, err := inst.Call(ctx, w.exports.InitTLS, uint64(msg.TLSPtr)); err != nil {
		return fail(errors.Trap(errors.PhaseTLS, w.exports.InitTLS, err))
	}
	w.advance(span, TLSInitialized)

	// Step 4: enter the thread. This may never return.
	if err := checkPointerFunc(errors.PhaseEntry, w.exports.Entrypoint, inst.Function(w.exports.Entrypoint)); err != nil {
		return fail(err)
	}
	w.advance(span, Running)
	if _, err := inst.Call(ctx, w.exports.Entrypoint, uint64(msg.ClosurePtr)); err != nil {
		return fail(errors.Trap(errors.PhaseEntry, w.exports.Entrypoint, err))
	}

	b := bridge.New(inst, w.bridgeOpts...)
	w.bridge.Store(b)
	return b, nil
}

// checkPointerFunc verifies fn exists and takes a single i32 pointer.
func checkPointerFunc(phase errors.Phase, name string, fn api.Function) error {
	if fn == nil {
		return errors.MissingExport(phase, name)
	}
	params := fn.Definition().ParamTypes()
	if len(params) == 1 && params[0] == api.ValueTypeI32 {
		return nil
	}
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = api.ValueTypeName(p)
	}
	return errors.TypeMismatch(phase, name, "func(i32)", "func("+strings.Join(names, ", ")+")")
}

func (w *Worker) advance(span trace.Span, s State) {
	w.state.Store(int32(s))
	span.AddEvent(s.String())
	w.log.Debug("bring-up step", zap.Stringer("state", s))
}

// tag keeps structured errors as they are and attributes anything else to
// phase.
func tag(phase errors.Phase, export string, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	if phase == errors.PhaseInstantiate {
		return errors.Instantiation(err)
	}
	return errors.New(phase, errors.KindInvalidData).
		Export(export).
		Cause(err).
		Build()
}
