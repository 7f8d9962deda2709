package kernel

import (
	"sync"

	"github.com/scusemua/notebook-bridge/common/queue"
)

// Bus fans events out to every subscriber.
//
// Publish never blocks: each subscriber owns an unbounded mailbox, so a slow subscriber delays only
// itself.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextId      uint64
	closed      bool
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*Subscription),
	}
}

// Subscribe registers a subscriber. Subscribing to a closed bus returns a subscription whose channel
// is already closed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:      b.nextId,
		bus:     b,
		mailbox: queue.NewMailbox[Event](),
	}
	b.nextId++

	if b.closed {
		sub.mailbox.Close(false)
		return sub
	}

	b.subscribers[sub.id] = sub
	return sub
}

// Publish delivers the event to every current subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		sub.mailbox.Put(e)
	}
}

// NumSubscribers returns the number of active subscriptions.
func (b *Bus) NumSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription after its pending events have been delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subscribers {
		sub.mailbox.Close(true)
		delete(b.subscribers, id)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Subscription is a subscriber's view of a Bus.
type Subscription struct {
	id      uint64
	bus     *Bus
	mailbox *queue.Mailbox[Event]
	once    sync.Once
}

// Events returns the channel on which events are delivered, in publication order. The channel is
// closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.mailbox.Out()
}

// Unsubscribe ends the subscription, discarding undelivered events. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		s.mailbox.Close(false)
	})
}
