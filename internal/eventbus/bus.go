// Package eventbus is a small in-process publish/subscribe bus.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity used by Subscribe.
const DefaultBuffer = 64

// Publisher is the write side of a bus.
type Publisher[T any] interface {
	Publish(T)
}

type subscriber[T any] struct {
	ch   chan T
	keep func(T) bool
	// wait subscribers block the publisher instead of dropping.
	wait bool
	stop chan struct{}
	once sync.Once
}

func (s *subscriber[T]) halt() { s.once.Do(func() { close(s.stop) }) }

// Bus fans events of type T out to subscribers. Publishing never blocks
// on plain subscribers: events for a full one are dropped and counted.
// Lossless subscribers apply backpressure instead.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    []*subscriber[T]
	closed  bool
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	// lossless maps a lossless channel to its subscriber outside mu.
	lossless sync.Map
}

// New creates an empty bus.
func New[T any]() *Bus[T] { return &Bus[T]{done: make(chan struct{})} }

// Publish delivers e to every subscriber. Plain subscribers without room
// miss the event; lossless ones are waited for until they read it, leave
// or the bus closes.
func (b *Bus[T]) Publish(e T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.keep != nil && !s.keep(e) {
			continue
		}
		if !s.wait {
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
			continue
		}
		select {
		case s.ch <- e:
		case <-s.stop:
		case <-b.done:
			return
		}
	}
}

// Subscribe registers a subscriber with the default buffer.
func (b *Bus[T]) Subscribe() <-chan T { return b.SubscribeBuffered(DefaultBuffer) }

// SubscribeBuffered registers a subscriber whose channel holds n events.
func (b *Bus[T]) SubscribeBuffered(n int) <-chan T {
	return b.add(&subscriber[T]{ch: make(chan T, max(n, 1))})
}

// SubscribeLossless registers a subscriber that never misses an event
// accepted by keep (nil keeps all). Publish blocks while its n-event
// buffer is full, so the reader must keep draining or unsubscribe.
func (b *Bus[T]) SubscribeLossless(n int, keep func(T) bool) <-chan T {
	s := &subscriber[T]{ch: make(chan T, max(n, 1)), keep: keep, wait: true}
	b.lossless.Store((<-chan T)(s.ch), s)
	return b.add(s)
}

func (b *Bus[T]) add(s *subscriber[T]) <-chan T {
	s.stop = make(chan struct{})
	b.mu.Lock()
	if b.closed {
		close(s.ch)
	} else {
		b.subs = append(b.subs, s)
	}
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus[T]) Unsubscribe(sub <-chan T) {
	// Release a publisher blocked on sub before taking the write lock.
	if v, ok := b.lossless.LoadAndDelete(sub); ok {
		v.(*subscriber[T]).halt()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Dropped returns how many deliveries were skipped on full subscribers.
func (b *Bus[T]) Dropped() uint64 { return b.dropped.Load() }

// Close closes the bus and every subscriber channel.
func (b *Bus[T]) Close() {
	b.once.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
