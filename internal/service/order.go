package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/matchingengine/internal/domain"
	"github.com/efreitasn/matchingengine/internal/engine"
)

// SubmitOrderRequest represents the input for order submission. Price and
// Quantity are decimals in instrument units; they are converted with the
// asset class scale before reaching the engine.
type SubmitOrderRequest struct {
	ID          string
	UserID      string
	Symbol      string
	AssetClass  string
	Side        string
	Type        string
	TimeInForce string
	Price       *decimal.Decimal // nil for market orders
	Quantity    decimal.Decimal
}

// Approver runs a pre-trade check before an order reaches the engine.
type Approver interface {
	PreTrade(ctx context.Context, req PreTradeRequest) (Decision, error)
}

// PreTradeRequest is what the risk engine sees of an order.
type PreTradeRequest struct {
	UserID     string
	Symbol     string
	AssetClass domain.AssetClass
	Side       domain.Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
}

// Decision is the outcome of a pre-trade check.
type Decision struct {
	Approved bool
	Reason   string
}

// DepthLevel is a depth level in instrument units.
type DepthLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// DepthView is the depth of one instrument in instrument units.
type DepthView struct {
	Symbol     string
	AssetClass domain.AssetClass
	Bids       []DepthLevel
	Asks       []DepthLevel
	LastPrice  *decimal.Decimal
}

// OrderService converts requests into engine orders and runs the optional
// pre-trade check.
type OrderService struct {
	engine   *engine.MatchingEngine
	approver Approver
	logger   *slog.Logger
}

// NewOrderService creates a new OrderService. approver may be nil.
func NewOrderService(eng *engine.MatchingEngine, approver Approver, logger *slog.Logger) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		engine:   eng,
		approver: approver,
		logger:   logger,
	}
}

// Submit converts req and submits it. Conversion failures are returned as
// *domain.ValidationError; every engine or risk outcome is reported in the
// result.
func (s *OrderService) Submit(ctx context.Context, req SubmitOrderRequest) (engine.SubmitResult, error) {
	order, err := toOrder(req)
	if err != nil {
		return engine.SubmitResult{}, err
	}

	if s.approver != nil && order.Symbol != "" && order.AssetClass.Supported() {
		decision, err := s.approver.PreTrade(ctx, PreTradeRequest{
			UserID:     order.UserID,
			Symbol:     order.Symbol,
			AssetClass: order.AssetClass,
			Side:       order.Side,
			Quantity:   req.Quantity,
			Price:      priceOrZero(req.Price),
		})
		if err != nil {
			s.logger.Warn("pre-trade check failed",
				slog.String("instrument", order.Instrument().String()),
				slog.String("error", err.Error()),
			)
			return denied(order, domain.ReasonRiskUnavailable), nil
		}
		if !decision.Approved {
			reason := decision.Reason
			if reason == "" {
				reason = "Risk check failed"
			}
			return denied(order, reason), nil
		}
	}

	return s.engine.SubmitOrder(order), nil
}

func toOrder(req SubmitOrderRequest) (domain.Order, error) {
	class := domain.ParseAssetClass(req.AssetClass)
	scale := domain.ScaleFor(class)

	qty, err := scale.QuantityToSteps(req.Quantity)
	if err != nil {
		return domain.Order{}, &domain.ValidationError{Message: fmt.Sprintf("quantity: %v", err)}
	}

	var price int64
	if req.Price != nil {
		price, err = scale.PriceToTicks(*req.Price)
		if err != nil {
			return domain.Order{}, &domain.ValidationError{Message: fmt.Sprintf("price: %v", err)}
		}
	}

	return domain.Order{
		ID:          req.ID,
		UserID:      req.UserID,
		Symbol:      strings.TrimSpace(req.Symbol),
		AssetClass:  class,
		Side:        domain.Side(strings.ToUpper(req.Side)),
		Type:        domain.OrderType(strings.ToUpper(req.Type)),
		TimeInForce: domain.TimeInForce(strings.ToUpper(req.TimeInForce)),
		Price:       price,
		Quantity:    qty,
	}, nil
}

func priceOrZero(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}

func denied(o domain.Order, reason string) engine.SubmitResult {
	o.Remaining = o.Quantity
	o.Status = domain.OrderStatusRejected
	return engine.SubmitResult{
		Success: false,
		Order:   o,
		Matches: []domain.Trade{},
		Reason:  reason,
	}
}

// Cancel cancels a resting order.
func (s *OrderService) Cancel(symbol, assetClass, orderID string) engine.CancelResult {
	return s.engine.CancelOrder(symbol, domain.ParseAssetClass(assetClass), orderID)
}

// Depth returns up to levels price levels per side, converted to
// instrument units.
func (s *OrderService) Depth(symbol, assetClass string, levels int) DepthView {
	class := domain.ParseAssetClass(assetClass)
	scale := domain.ScaleFor(class)
	d := s.engine.Depth(symbol, class, levels)

	view := DepthView{
		Symbol:     symbol,
		AssetClass: class,
		Bids:       convertLevels(scale, d.Bids),
		Asks:       convertLevels(scale, d.Asks),
	}
	if d.LastPrice != nil {
		p := scale.TicksToPrice(*d.LastPrice)
		view.LastPrice = &p
	}
	return view
}

func convertLevels(scale domain.Scale, levels []engine.DepthLevel) []DepthLevel {
	out := make([]DepthLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, DepthLevel{
			Price:    scale.TicksToPrice(l.Price),
			Quantity: scale.StepsToQuantity(l.Quantity),
			Orders:   l.Orders,
		})
	}
	return out
}

// Metrics returns per-instrument metrics keyed by "ASSET_CLASS:SYMBOL".
func (s *OrderService) Metrics() map[string]engine.Metrics {
	return s.engine.AllMetrics()
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve)
}
