package relay

import "sync"

// Mailbox is an unbounded, ordered queue with a receive channel.
// Post never blocks. Items posted before Close are still delivered; C is
// closed once they have all been received. A mailbox nobody drains must be
// released with Discard.
type Mailbox[T any] struct {
	out     chan T
	wake    chan struct{}
	done    chan struct{}
	queue   []T
	mu      sync.Mutex
	discard sync.Once
	pending int
	closed  bool
}

// NewMailbox creates a mailbox and starts its pump goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		out:  make(chan T),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.pump()
	return m
}

// Post enqueues v. Posting to a closed mailbox drops v.
func (m *Mailbox[T]) Post(v T) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, v)
	m.pending++
	m.mu.Unlock()
	m.notify()
}

// C returns the receive channel.
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Len returns the number of items posted but not yet received.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Close stops accepting items. Safe to call more than once.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notify()
}

// Discard closes the mailbox and drops every undelivered item. C is closed
// without waiting for a reader.
func (m *Mailbox[T]) Discard() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.pending = 0
	m.mu.Unlock()
	m.discard.Do(func() { close(m.done) })
}

func (m *Mailbox[T]) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			select {
			case <-m.wake:
			case <-m.done:
				return
			}
			continue
		}

		for _, v := range batch {
			select {
			case <-m.done:
				return
			default:
			}
			select {
			case m.out <- v:
				m.mu.Lock()
				if m.pending > 0 {
					m.pending--
				}
				m.mu.Unlock()
			case <-m.done:
				return
			}
		}
	}
}
