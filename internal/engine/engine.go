package engine

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/matchingengine/internal/domain"
)

// MatchingEngine routes orders to one OrderBook per (asset class, symbol)
// and fans book events out through a shared Dispatcher.
type MatchingEngine struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	closed     atomic.Bool

	mu    sync.RWMutex
	books map[domain.InstrumentKey]*OrderBook
}

// Option configures a MatchingEngine.
type Option func(*MatchingEngine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *MatchingEngine) {
		e.logger = logger
	}
}

// NewMatchingEngine creates an engine with no books.
func NewMatchingEngine(opts ...Option) *MatchingEngine {
	e := &MatchingEngine{
		logger: slog.Default(),
		books:  make(map[domain.InstrumentKey]*OrderBook),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatcher = NewDispatcher(e.logger)
	return e
}

// SubmitOrder routes o to its instrument's book, creating the book on first
// use. Orders without an instrument or with an unsupported asset class are
// rejected before any book is touched.
func (e *MatchingEngine) SubmitOrder(o domain.Order) SubmitResult {
	if e.closed.Load() {
		return rejected(o, domain.ReasonEngineClosed)
	}
	if o.Symbol == "" || o.AssetClass == "" {
		return rejected(o, domain.ReasonMissingInstrument)
	}
	if !o.AssetClass.Supported() {
		return rejected(o, domain.ReasonUnsupportedAssetClass)
	}
	return e.getOrCreate(o.Instrument()).Submit(o)
}

func rejected(o domain.Order, reason string) SubmitResult {
	o.Remaining = o.Quantity
	o.Status = domain.OrderStatusRejected
	return SubmitResult{
		Success: false,
		Order:   o,
		Matches: []domain.Trade{},
		Reason:  reason,
	}
}

// CancelOrder cancels a resting order. It never creates a book.
func (e *MatchingEngine) CancelOrder(symbol string, assetClass domain.AssetClass, orderID string) CancelResult {
	book, ok := e.Book(domain.InstrumentKey{AssetClass: assetClass, Symbol: symbol})
	if !ok {
		return CancelResult{Success: false, Reason: domain.ReasonBookNotFound}
	}
	return book.Cancel(orderID)
}

// Depth returns the aggregated depth of an instrument. An unknown
// instrument yields empty sides and no last price.
func (e *MatchingEngine) Depth(symbol string, assetClass domain.AssetClass, levels int) Depth {
	book, ok := e.Book(domain.InstrumentKey{AssetClass: assetClass, Symbol: symbol})
	if !ok {
		return Depth{Bids: []DepthLevel{}, Asks: []DepthLevel{}}
	}
	return book.Depth(levels)
}

// AllMetrics returns each book's metrics keyed by "ASSET:SYMBOL".
func (e *MatchingEngine) AllMetrics() map[string]Metrics {
	books := e.snapshot()
	out := make(map[string]Metrics, len(books))
	for _, b := range books {
		out[b.Key().String()] = b.Metrics()
	}
	return out
}

// Instruments lists every instrument with a book, sorted by key.
func (e *MatchingEngine) Instruments() []domain.InstrumentKey {
	books := e.snapshot()
	keys := make([]domain.InstrumentKey, 0, len(books))
	for _, b := range books {
		keys = append(keys, b.Key())
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Book returns the book for key if one exists.
func (e *MatchingEngine) Book(key domain.InstrumentKey) (*OrderBook, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[key]
	return b, ok
}

// getOrCreate returns the book for key, creating one if it doesn't already
// exist. Concurrent first submissions for a key share one book.
func (e *MatchingEngine) getOrCreate(key domain.InstrumentKey) *OrderBook {
	e.mu.RLock()
	book, ok := e.books[key]
	e.mu.RUnlock()
	if ok {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = e.books[key]; ok {
		return book
	}
	book = NewOrderBook(key, e.dispatcher)
	e.books[key] = book
	e.logger.Debug("order book created", slog.String("instrument", key.String()))
	return book
}

func (e *MatchingEngine) snapshot() []*OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	books := make([]*OrderBook, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	return books
}

// Subscribe registers handler for one event kind across all books.
func (e *MatchingEngine) Subscribe(kind EventKind, handler Handler) func() {
	return e.dispatcher.Subscribe(kind, handler)
}

// SubscribeAll registers handler for every event kind across all books.
func (e *MatchingEngine) SubscribeAll(handler Handler) func() {
	return e.dispatcher.SubscribeAll(handler)
}

// Close drops all subscriptions and refuses further submissions. Books stay
// readable.
func (e *MatchingEngine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.dispatcher.Reset()
	e.logger.Info("matching engine closed")
}
