package runtime

import (
	"sync"

	"github.com/wippyai/wasm-threads/bridge"
	"github.com/wippyai/wasm-threads/worker"
)

// Thread is one spawned thread.
type Thread struct {
	worker *worker.Worker
	bridge *bridge.Bridge
	err    error
	done   chan struct{}
	region Region
	id     int
	once   sync.Once
}

func newThread(id int, region Region, w *worker.Worker) *Thread {
	return &Thread{
		worker: w,
		done:   make(chan struct{}),
		region: region,
		id:     id,
	}
}

func (t *Thread) finish(b *bridge.Bridge, err error) {
	t.once.Do(func() {
		t.bridge = b
		t.err = err
		close(t.done)
	})
}

// ID returns the thread's index within its module.
func (t *Thread) ID() int {
	return t.id
}

// Region returns the memory the thread owns.
func (t *Thread) Region() Region {
	return t.region
}

// Done is closed when the entrypoint returns or bring-up fails.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Err returns the bring-up error. Valid after Done is closed.
func (t *Thread) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// State returns the worker's bring-up state.
func (t *Thread) State() worker.State {
	return t.worker.State()
}

// Failed reports whether bring-up failed.
func (t *Thread) Failed() bool {
	return t.worker.Failed()
}

// Signals returns how many signals the thread has posted.
func (t *Thread) Signals() uint64 {
	return t.worker.Relay().Count()
}

// Bridge returns the thread's bridge once it is done, or nil.
func (t *Thread) Bridge() *bridge.Bridge {
	select {
	case <-t.done:
		return t.bridge
	default:
		return nil
	}
}
