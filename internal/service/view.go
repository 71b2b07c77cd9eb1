package service

import (
	"encoding/json"
	"time"

	"github.com/efreitasn/matchingengine/internal/domain"
	"github.com/efreitasn/matchingengine/internal/engine"
)

// OrderView is the wire form of an order, in instrument units.
type OrderView struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId,omitempty"`
	Symbol      string       `json:"symbol"`
	AssetClass  string       `json:"assetClass"`
	Side        string       `json:"side"`
	Type        string       `json:"type"`
	TimeInForce string       `json:"timeInForce"`
	Price       *json.Number `json:"price"`
	Quantity    json.Number  `json:"quantity"`
	Remaining   json.Number  `json:"remaining"`
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
}

// TradeView is the wire form of a trade, in instrument units.
type TradeView struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	AssetClass  string      `json:"assetClass"`
	Price       json.Number `json:"price"`
	Quantity    json.Number `json:"quantity"`
	BuyOrderID  string      `json:"buyOrderId"`
	SellOrderID string      `json:"sellOrderId"`
	BuyerID     string      `json:"buyerId,omitempty"`
	SellerID    string      `json:"sellerId,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EventMessage is the envelope streamed to websocket clients and the event
// sink.
type EventMessage struct {
	Type       string    `json:"type"`
	Instrument string    `json:"instrument"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewOrderView converts o using its asset class scale. Market orders have a
// null price.
func NewOrderView(o domain.Order) OrderView {
	scale := domain.ScaleFor(o.AssetClass)
	v := OrderView{
		ID:          o.ID,
		UserID:      o.UserID,
		Symbol:      o.Symbol,
		AssetClass:  string(o.AssetClass),
		Side:        string(o.Side),
		Type:        string(o.Type),
		TimeInForce: string(o.EffectiveTimeInForce()),
		Quantity:    json.Number(scale.StepsToQuantity(o.Quantity).String()),
		Remaining:   json.Number(scale.StepsToQuantity(o.Remaining).String()),
		Status:      string(o.Status),
		Timestamp:   o.Timestamp,
	}
	if o.Type != domain.OrderTypeMarket && o.Price > 0 {
		p := json.Number(scale.TicksToPrice(o.Price).String())
		v.Price = &p
	}
	return v
}

// NewTradeView converts t using its asset class scale.
func NewTradeView(t domain.Trade) TradeView {
	scale := domain.ScaleFor(t.AssetClass)
	return TradeView{
		ID:          t.ID,
		Symbol:      t.Symbol,
		AssetClass:  string(t.AssetClass),
		Price:       json.Number(scale.TicksToPrice(t.Price).String()),
		Quantity:    json.Number(scale.StepsToQuantity(t.Quantity).String()),
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		Timestamp:   t.Timestamp,
	}
}

// NewTradeViews converts a slice of trades, never returning nil.
func NewTradeViews(trades []domain.Trade) []TradeView {
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, NewTradeView(t))
	}
	return out
}

// NewEventMessage wraps an engine event for streaming.
func NewEventMessage(ev engine.Event) EventMessage {
	msg := EventMessage{
		Type:       string(ev.Kind),
		Instrument: ev.Instrument.String(),
		Timestamp:  ev.At,
	}
	switch {
	case ev.Trade != nil:
		msg.Data = NewTradeView(*ev.Trade)
	case ev.Order != nil:
		msg.Data = NewOrderView(*ev.Order)
	}
	return msg
}
