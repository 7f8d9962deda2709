package queue

import (
	"sync"
)

// Mailbox is an unbounded, concurrency-safe FIFO with a channel-based consumer side.
//
// Put never blocks, which makes a Mailbox suitable for handing values off from a publisher
// that must not be stalled by a slow consumer. Values are delivered on Out in the order they
// were put. Out is closed once the Mailbox is closed and every pending value has been delivered
// (or discarded, see Close).
type Mailbox[T any] struct {
	mu      sync.Mutex
	pending *Fifo[T]
	notify  chan struct{}
	out     chan T
	closed  bool
	drain   bool
	done    chan struct{}
}

// NewMailbox creates a Mailbox and starts its delivery goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		pending: NewFifo[T](8),
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
		done:    make(chan struct{}),
	}
	go m.deliver()
	return m
}

// Out returns the channel on which values are delivered.
func (m *Mailbox[T]) Out() <-chan T {
	return m.out
}

// Put enqueues a value. Put returns false if the Mailbox has already been closed.
func (m *Mailbox[T]) Put(value T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.pending.Enqueue(value)
	m.mu.Unlock()

	m.signal()
	return true
}

// Len returns the number of values that have been put but not yet delivered.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

// Close stops the Mailbox. If drain is true, values already put are still delivered before Out is
// closed; otherwise they are discarded. Close is idempotent.
func (m *Mailbox[T]) Close(drain bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.drain = drain
	m.mu.Unlock()

	close(m.done)
}

func (m *Mailbox[T]) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) next() (value T, ok bool, closed bool, drain bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok = m.pending.Dequeue()
	return value, ok, m.closed, m.drain
}

func (m *Mailbox[T]) deliver() {
	defer close(m.out)

	for {
		value, ok, closed, drain := m.next()
		if !ok {
			if closed {
				return
			}

			select {
			case <-m.notify:
			case <-m.done:
			}
			continue
		}

		if closed && !drain {
			return
		}

		select {
		case m.out <- value:
		case <-m.done:
			if !drain {
				return
			}
			// Closing with drain: keep delivering, the consumer is expected to read until Out closes.
			m.out <- value
		}
	}
}
