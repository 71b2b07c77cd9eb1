package stream

import (
	"sync"
	"sync/atomic"
)

// Subscription receives broadcast values on C until it is unsubscribed.
type Subscription[T any] struct {
	ch   chan T
	once sync.Once
}

// C returns the receive channel. It is closed on Unsubscribe or Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Hub fans values out to subscribers without ever blocking the sender: a
// subscriber whose buffer is full misses the value.
type Hub[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Broadcast offers value to every subscriber.
func (h *Hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- value:
		default:
			h.dropped.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription[T]]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
}
