package engine

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/matchingengine/internal/domain"
)

// DefaultDepthLevels is used when a depth query asks for zero or fewer levels.
const DefaultDepthLevels = 10

// Metrics are the running counters of one book.
type Metrics struct {
	TotalOrders      int64
	TotalTrades      int64
	TotalVolume      int64
	AvgLatencyMicros float64
}

// SubmitResult is the structured outcome of a submission. Order is a
// snapshot taken when the call returns.
type SubmitResult struct {
	Success       bool
	Order         domain.Order
	Matches       []domain.Trade
	Reason        string
	LatencyMicros float64
}

// CancelResult is the structured outcome of a cancellation.
type CancelResult struct {
	Success bool
	Order   *domain.Order
	Reason  string
}

// DepthLevel aggregates one price level.
type DepthLevel struct {
	Price    int64
	Quantity int64
	Orders   int
}

// Depth is the top of both sides plus the last executed price, which is nil
// until the first trade.
type Depth struct {
	Bids      []DepthLevel
	Asks      []DepthLevel
	LastPrice *int64
}

// OrderBook is the limit order book of a single instrument. Every operation
// runs under one mutex, so a match never interleaves with another
// submission, cancellation or depth read on the same instrument.
type OrderBook struct {
	key       domain.InstrumentKey
	publisher Publisher
	now       func() time.Time

	mu        sync.Mutex
	bids      *ladder
	asks      *ladder
	index     map[string]*domain.Order // resting orders only
	lastPrice *int64
	metrics   Metrics
	pending   []Event // produced by the running operation
	outbox    []Event // waiting to be published, in production order
	flushing  bool
}

// NewOrderBook creates an empty book. Events are sent to publisher after
// each operation releases the book; a nil publisher discards them.
func NewOrderBook(key domain.InstrumentKey, publisher Publisher) *OrderBook {
	return &OrderBook{
		key:       key,
		publisher: publisher,
		now:       time.Now,
		bids:      newLadder(domain.SideBuy),
		asks:      newLadder(domain.SideSell),
		index:     make(map[string]*domain.Order),
	}
}

// Key returns the instrument this book trades.
func (ob *OrderBook) Key() domain.InstrumentKey {
	return ob.key
}

// Submit admits an order, matches it against the opposite side and rests
// any eligible remainder. The caller's value is copied; the book owns the
// copy while it rests.
func (ob *OrderBook) Submit(in domain.Order) SubmitResult {
	start := time.Now()

	o := new(domain.Order)
	*o = in
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = ob.now()
	}
	o.Symbol = ob.key.Symbol
	o.AssetClass = ob.key.AssetClass
	o.Remaining = o.Quantity
	o.Status = domain.OrderStatusPending

	ob.mu.Lock()
	res := ob.submitLocked(o, start)
	ob.unlockAndPublish()
	return res
}

func (ob *OrderBook) submitLocked(o *domain.Order, start time.Time) SubmitResult {
	if !ob.valid(o) {
		return ob.reject(o, domain.ReasonValidationFailed)
	}

	switch o.Type {
	case domain.OrderTypeMarket:
		matches := ob.match(o, false)
		if o.Remaining == 0 {
			o.Status = domain.OrderStatusFilled
			ob.emitOrder(EventOrderFilled, o)
		} else {
			o.Status = domain.OrderStatusPartial
		}
		return ob.accept(o, matches, start)

	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		tif := o.EffectiveTimeInForce()
		if tif == domain.TimeInForceFOK && ob.fillable(o) < o.Remaining {
			return ob.reject(o, domain.ReasonFOKNotFilled)
		}

		ob.index[o.ID] = o
		matches := ob.match(o, true)

		switch {
		case o.Remaining > 0 && tif == domain.TimeInForceIOC:
			delete(ob.index, o.ID)
			o.Status = domain.OrderStatusCancelled
			ob.emitOrder(EventOrderCancelled, o)
		case o.Remaining > 0:
			ob.side(o.Side).levelFor(o.Price).push(o)
			o.Status = domain.OrderStatusOpen
		default:
			delete(ob.index, o.ID)
			o.Status = domain.OrderStatusFilled
			ob.emitOrder(EventOrderFilled, o)
		}
		return ob.accept(o, matches, start)
	}

	return ob.reject(o, domain.ReasonUnsupportedOrderType)
}

// valid checks the admission rules. An id already resting in this book is
// refused so the index stays one-to-one, and a priced order is refused when
// resting all of it would overflow its level's volume.
func (ob *OrderBook) valid(o *domain.Order) bool {
	if !o.Side.Valid() || o.Quantity <= 0 || !o.TimeInForce.Valid() {
		return false
	}
	if o.Type.Priced() && o.Price <= 0 {
		return false
	}
	if _, dup := ob.index[o.ID]; dup {
		return false
	}
	if o.Type.Priced() {
		if lvl, ok := ob.side(o.Side).get(o.Price); ok && lvl.volume > math.MaxInt64-o.Quantity {
			return false
		}
	}
	return true
}

func (ob *OrderBook) reject(o *domain.Order, reason string) SubmitResult {
	o.Status = domain.OrderStatusRejected
	ob.emitOrder(EventOrderRejected, o)
	return SubmitResult{
		Success: false,
		Order:   *o,
		Matches: []domain.Trade{},
		Reason:  reason,
	}
}

// accept records latency for an accepted submission using the incremental
// mean newAvg = (oldAvg*(n-1) + sample) / n.
func (ob *OrderBook) accept(o *domain.Order, matches []domain.Trade, start time.Time) SubmitResult {
	sample := float64(time.Since(start).Nanoseconds()) / 1e3

	ob.metrics.TotalOrders++
	n := float64(ob.metrics.TotalOrders)
	ob.metrics.AvgLatencyMicros = (ob.metrics.AvgLatencyMicros*(n-1) + sample) / n

	return SubmitResult{
		Success:       true,
		Order:         *o,
		Matches:       matches,
		LatencyMicros: sample,
	}
}

// match executes o against the opposite ladder best price first, FIFO
// within a level. When bounded, it stops at the first level that does not
// satisfy o's limit price.
func (ob *OrderBook) match(o *domain.Order, bounded bool) []domain.Trade {
	opposite := ob.side(opposite(o.Side))
	matches := []domain.Trade{}

	for o.Remaining > 0 {
		lvl, ok := opposite.best()
		if !ok {
			break
		}
		if bounded && !crosses(o, lvl.price) {
			break
		}

		for o.Remaining > 0 && !lvl.empty() {
			maker := lvl.front()
			qty := min(o.Remaining, maker.Remaining)

			trade := ob.newTrade(o, maker, qty)
			o.Remaining -= qty
			maker.Remaining -= qty
			lvl.volume -= qty

			price := maker.Price
			ob.lastPrice = &price
			ob.metrics.TotalTrades++
			ob.metrics.TotalVolume = addSaturating(ob.metrics.TotalVolume, qty)
			matches = append(matches, trade)
			ob.emit(Event{Kind: EventTrade, Trade: &trade})

			if maker.Remaining == 0 {
				lvl.popFront()
				delete(ob.index, maker.ID)
				maker.Status = domain.OrderStatusFilled
				ob.emitOrder(EventOrderFilled, maker)
			}
		}

		if lvl.empty() {
			opposite.delete(lvl)
		}
	}
	return matches
}

// fillable returns how much of o's remaining quantity the opposite side
// could fill within o's limit, without mutating anything.
func (ob *OrderBook) fillable(o *domain.Order) int64 {
	var available int64
	ob.side(opposite(o.Side)).walk(func(lvl *priceLevel) bool {
		if !crosses(o, lvl.price) {
			return false
		}
		if lvl.volume >= o.Remaining-available {
			available = o.Remaining
			return false
		}
		available += lvl.volume
		return true
	})
	return available
}

func (ob *OrderBook) newTrade(taker, maker *domain.Order, qty int64) domain.Trade {
	buy, sell := taker, maker
	if !taker.IsBuy() {
		buy, sell = maker, taker
	}
	return domain.Trade{
		ID:          uuid.NewString(),
		Symbol:      ob.key.Symbol,
		AssetClass:  ob.key.AssetClass,
		Price:       maker.Price,
		Quantity:    qty,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Timestamp:   ob.now(),
	}
}

// Cancel removes a resting order. Unknown ids, including orders that
// already left the book, fail with "Order not found" and change nothing.
func (ob *OrderBook) Cancel(orderID string) CancelResult {
	ob.mu.Lock()
	o, ok := ob.index[orderID]
	if !ok {
		ob.mu.Unlock()
		return CancelResult{Success: false, Reason: domain.ReasonOrderNotFound}
	}

	ld := ob.side(o.Side)
	if lvl, ok := ld.get(o.Price); ok {
		lvl.remove(orderID)
		if lvl.empty() {
			ld.delete(lvl)
		}
	}
	delete(ob.index, orderID)
	o.Status = domain.OrderStatusCancelled
	ob.emitOrder(EventOrderCancelled, o)
	snap := *o

	ob.unlockAndPublish()
	return CancelResult{Success: true, Order: &snap}
}

// Depth aggregates up to levels price levels per side in priority order.
func (ob *OrderBook) Depth(levels int) Depth {
	if levels <= 0 {
		levels = DefaultDepthLevels
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	d := Depth{
		Bids: topLevels(ob.bids, levels),
		Asks: topLevels(ob.asks, levels),
	}
	if ob.lastPrice != nil {
		p := *ob.lastPrice
		d.LastPrice = &p
	}
	return d
}

func topLevels(ld *ladder, n int) []DepthLevel {
	out := make([]DepthLevel, 0, min(n, ld.levels()))
	ld.walk(func(lvl *priceLevel) bool {
		out = append(out, DepthLevel{
			Price:    lvl.price,
			Quantity: lvl.volume,
			Orders:   len(lvl.orders),
		})
		return len(out) < n
	})
	return out
}

// Metrics returns a snapshot of the book's counters.
func (ob *OrderBook) Metrics() Metrics {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.metrics
}

// BestBid returns the highest bid price.
func (ob *OrderBook) BestBid() (int64, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	lvl, ok := ob.bids.best()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// BestAsk returns the lowest ask price.
func (ob *OrderBook) BestAsk() (int64, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	lvl, ok := ob.asks.best()
	if !ok {
		return 0, false
	}
	return lvl.price, true
}

// Resting returns a snapshot of a resting order.
func (ob *OrderBook) Resting(orderID string) (domain.Order, bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	o, ok := ob.index[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// RestingCount returns the number of resting orders on both sides.
func (ob *OrderBook) RestingCount() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.index)
}

func (ob *OrderBook) side(s domain.Side) *ladder {
	if s == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) emitOrder(kind EventKind, o *domain.Order) {
	snap := *o
	ob.emit(Event{Kind: kind, Order: &snap})
}

func (ob *OrderBook) emit(ev Event) {
	ev.Instrument = ob.key
	ev.At = ob.now()
	ob.pending = append(ob.pending, ev)
}

// unlockAndPublish moves the operation's events to the outbox and releases
// mu. Only one goroutine drains the outbox at a time, publishing outside the
// lock, so events of successive operations reach the publisher in the order
// the operations ran. When another goroutine is already draining, it
// publishes these events too and the call returns at once. Must be called
// with mu held.
func (ob *OrderBook) unlockAndPublish() {
	if ob.publisher == nil {
		ob.pending = nil
		ob.mu.Unlock()
		return
	}
	ob.outbox = append(ob.outbox, ob.pending...)
	ob.pending = nil
	if ob.flushing {
		ob.mu.Unlock()
		return
	}

	ob.flushing = true
	for len(ob.outbox) > 0 {
		events := ob.outbox
		ob.outbox = nil
		ob.mu.Unlock()
		for _, ev := range events {
			ob.publisher.Publish(ev)
		}
		ob.mu.Lock()
	}
	ob.flushing = false
	ob.mu.Unlock()
}

func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func opposite(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}

// crosses reports whether a resting price satisfies o's limit: a buy takes
// asks at or below its price, a sell takes bids at or above it.
func crosses(o *domain.Order, restingPrice int64) bool {
	if o.IsBuy() {
		return restingPrice <= o.Price
	}
	return restingPrice >= o.Price
}
