// Package eventbus provides typed in-process pub/sub. The host keeps one Bus
// per event kind (raw output, exit, reconstructed lines, telemetry) so a
// consumer subscribes only to the streams it renders.
package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBuffer is the channel capacity used when Subscribe is given a
// non-positive size.
const DefaultBuffer = 256

// Bus fans every published value out to all current subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the value
// and its drop counter is incremented.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription[T]
	closed      bool
}

// Subscription is a single consumer of a Bus. Cancel is idempotent and safe
// to call concurrently with Publish; after Cancel returns no further values
// are delivered and C is closed.
type Subscription[T any] struct {
	id      string
	bus     *Bus[T]
	ch      chan T
	dropped atomic.Uint64
	once    sync.Once
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		subscribers: make(map[string]*Subscription[T]),
	}
}

// Subscribe registers a new consumer with the given channel buffer.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &Subscription[T]{
		id:  uuid.NewString(),
		bus: b,
		ch:  make(chan T, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subscribers[sub.id] = sub
	return sub
}

// Publish delivers v to every subscriber without blocking.
// It reports how many subscribers received the value.
func (b *Bus[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- v:
			delivered++
		default:
			sub.dropped.Add(1)
		}
	}
	return delivered
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close cancels every subscription. Later Subscribe calls return an already
// closed subscription and Publish becomes a no-op.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// ID returns the subscription identifier.
func (s *Subscription[T]) ID() string { return s.id }

// C returns the receive channel. It is closed on Cancel or Bus.Close.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Dropped returns how many values were discarded because the buffer was full.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Cancel removes the subscription from its bus and closes C.
func (s *Subscription[T]) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subscribers, s.id)
	s.once.Do(func() { close(s.ch) })
}
