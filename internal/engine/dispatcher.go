package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/matchingengine/internal/domain"
)

// EventKind names a book lifecycle event.
type EventKind string

const (
	EventTrade          EventKind = "trade"
	EventOrderFilled    EventKind = "orderFilled"
	EventOrderCancelled EventKind = "orderCancelled"
	EventOrderRejected  EventKind = "orderRejected"
)

// EventKinds lists every kind a book emits.
var EventKinds = []EventKind{EventTrade, EventOrderFilled, EventOrderCancelled, EventOrderRejected}

// Event carries an immutable snapshot: Trade is set for EventTrade, Order for
// the order events.
type Event struct {
	Kind       EventKind
	Instrument domain.InstrumentKey
	Trade      *domain.Trade
	Order      *domain.Order
	At         time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and must not block. Events of one instrument arrive
// in the order its operations ran; when two callers hit the same book at
// once, the second call may return before its events are delivered.
type Handler func(Event)

// Publisher is the surface an OrderBook needs to emit events. A book calls
// Publish from one goroutine at a time, in the order its operations ran.
// Publish must not panic.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher fans events out to subscribers by kind.
type Dispatcher struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[EventKind][]subscription
}

// NewDispatcher creates a dispatcher with no subscribers.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger: logger,
		subs:   make(map[EventKind][]subscription),
	}
}

// Subscribe registers handler for kind and returns a function that removes
// it. Calling the returned function more than once is harmless.
func (d *Dispatcher) Subscribe(kind EventKind, handler Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[kind] = append(d.subs[kind], subscription{id: id, handler: handler})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[kind]
		for i, s := range subs {
			if s.id == id {
				d.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers handler for every kind in EventKinds.
func (d *Dispatcher) SubscribeAll(handler Handler) func() {
	unsubs := make([]func(), 0, len(EventKinds))
	for _, kind := range EventKinds {
		unsubs = append(unsubs, d.Subscribe(kind, handler))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Publish delivers ev to every handler subscribed to its kind, in
// subscription order. A panicking handler is logged and skipped.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	subs := d.subs[ev.Kind]
	d.mu.RUnlock()

	for _, s := range subs {
		d.deliver(s.handler, ev)
	}
}

func (d *Dispatcher) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic",
				slog.String("kind", string(ev.Kind)),
				slog.String("instrument", ev.Instrument.String()),
				slog.Any("recover", r),
			)
		}
	}()
	h(ev)
}

// Reset drops every subscription.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = make(map[EventKind][]subscription)
}
