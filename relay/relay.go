package relay

import "sync/atomic"

// Outbox receives relayed signals. Post is called on the worker's thread
// while module code is suspended inside the import, so it must not block
// longer than a channel send.
type Outbox interface {
	Post(Signal)
}

// OutboxFunc adapts a function to Outbox.
type OutboxFunc func(Signal)

// Post calls f(s).
func (f OutboxFunc) Post(s Signal) {
	f(s)
}

// Relay implements the _post_signal import for one worker.
// It is created before the module is instantiated and bound into the
// instance's import table.
type Relay struct {
	out   Outbox
	count atomic.Uint64
}

// New creates a relay posting to out. A nil outbox discards signals.
func New(out Outbox) *Relay {
	return &Relay{out: out}
}

// PostSignal posts Signal{hi, lo} to the outbox.
func (r *Relay) PostSignal(hi, lo uint32) {
	r.count.Add(1)
	if r.out == nil {
		return
	}
	r.out.Post(Signal{Hi: hi, Lo: lo})
}

// Count returns how many signals have been relayed.
func (r *Relay) Count() uint64 {
	return r.count.Load()
}
