package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/matchingengine/internal/domain"
	"github.com/efreitasn/matchingengine/internal/engine"
)

const (
	preTradePath       = "/api/risk/pre-trade"
	updatePositionPath = "/api/risk/update-position"
)

// RiskClient talks to the external risk engine over HTTP.
type RiskClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewRiskClient creates a RiskClient for the risk engine at baseURL.
func NewRiskClient(baseURL string, timeout time.Duration, logger *slog.Logger) *RiskClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// preTradePayload is the JSON body for the pre-trade check.
type preTradePayload struct {
	UserID     string      `json:"userId"`
	Symbol     string      `json:"symbol"`
	AssetClass string      `json:"assetClass"`
	Side       string      `json:"side"`
	Quantity   json.Number `json:"quantity"`
	Price      json.Number `json:"price"`
}

type preTradeResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// positionPayload is the JSON body for a position update. Quantity is
// signed: positive for the buyer, negative for the seller.
type positionPayload struct {
	UserID     string      `json:"userId"`
	Symbol     string      `json:"symbol"`
	AssetClass string      `json:"assetClass"`
	Quantity   json.Number `json:"quantity"`
	AvgPrice   json.Number `json:"avgPrice"`
}

// PreTrade asks the risk engine to approve an order. Any transport failure
// or non-2xx status is reported as domain.ErrRiskUnavailable.
func (c *RiskClient) PreTrade(ctx context.Context, req PreTradeRequest) (Decision, error) {
	payload := preTradePayload{
		UserID:     req.UserID,
		Symbol:     req.Symbol,
		AssetClass: string(req.AssetClass),
		Side:       string(req.Side),
		Quantity:   json.Number(req.Quantity.String()),
		Price:      json.Number(req.Price.String()),
	}

	resp, err := c.post(ctx, preTradePath, payload)
	if err != nil {
		return Decision{}, err
	}
	defer resp.Body.Close()

	var out preTradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Decision{}, fmt.Errorf("%w: decode pre-trade response: %v", domain.ErrRiskUnavailable, err)
	}
	return Decision{Approved: out.Approved, Reason: out.Reason}, nil
}

// UpdatePosition reports a signed position change for one user.
func (c *RiskClient) UpdatePosition(ctx context.Context, userID string, key domain.InstrumentKey, qty, avgPrice decimal.Decimal) error {
	resp, err := c.post(ctx, updatePositionPath, positionPayload{
		UserID:     userID,
		Symbol:     key.Symbol,
		AssetClass: string(key.AssetClass),
		Quantity:   json.Number(qty.String()),
		AvgPrice:   json.Number(avgPrice.String()),
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// post sends payload as JSON and returns the response for 2xx statuses.
func (c *RiskClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRiskUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRiskUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrRiskUnavailable, path, resp.StatusCode)
	}
	return resp, nil
}

// PositionUpdater is the part of RiskClient the notifier needs.
type PositionUpdater interface {
	UpdatePosition(ctx context.Context, userID string, key domain.InstrumentKey, qty, avgPrice decimal.Decimal) error
}

// PositionNotifier forwards executed trades to the risk engine as position
// updates, one for the buyer and one for the seller. Delivery is
// fire-and-forget; failures are logged.
type PositionNotifier struct {
	updater PositionUpdater
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	unsub  func()
}

// NewPositionNotifier subscribes to trade events on eng.
func NewPositionNotifier(eng *engine.MatchingEngine, updater PositionUpdater, timeout time.Duration, logger *slog.Logger) *PositionNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &PositionNotifier{
		updater: updater,
		timeout: timeout,
		logger:  logger,
	}
	n.unsub = eng.Subscribe(engine.EventTrade, n.onTrade)
	return n
}

func (n *PositionNotifier) onTrade(ev engine.Event) {
	if ev.Trade == nil {
		return
	}
	t := *ev.Trade
	scale := domain.ScaleFor(t.AssetClass)
	price := scale.TicksToPrice(t.Price)
	qty := scale.StepsToQuantity(t.Quantity)
	key := domain.InstrumentKey{AssetClass: t.AssetClass, Symbol: t.Symbol}

	if t.BuyerID != "" {
		n.dispatch(t.BuyerID, key, qty, price)
	}
	if t.SellerID != "" {
		n.dispatch(t.SellerID, key, qty.Neg(), price)
	}
}

func (n *PositionNotifier) dispatch(userID string, key domain.InstrumentKey, qty, price decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.updater.UpdatePosition(ctx, userID, key, qty, price); err != nil {
			n.logger.Warn("position update failed",
				slog.String("user_id", userID),
				slog.String("instrument", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close unsubscribes and waits for in-flight updates. Trades delivered
// after Close are ignored.
func (n *PositionNotifier) Close() {
	n.unsub()
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
