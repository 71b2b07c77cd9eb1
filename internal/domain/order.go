package domain

import "time"

// OrderType distinguishes market orders from priced orders.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// Priced reports whether orders of this type carry a limit price.
func (t OrderType) Priced() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// Side indicates whether an order buys or sells.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TimeInForce controls what happens to the part of an order that does not
// match immediately.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Valid reports whether tif is one of the supported values. The empty value
// is accepted and means GTC.
func (tif TimeInForce) Valid() bool {
	switch tif {
	case "", TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
		return true
	}
	return false
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further transition can leave this status.
// OPEN is the only non-terminal status once admission completes.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusPartial, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// Order is an instruction to buy or sell an instrument. Price and quantities
// are fixed-point integers: Price counts price ticks and Quantity/Remaining
// count quantity steps of the instrument's Scale.
type Order struct {
	ID          string
	UserID      string
	Symbol      string
	AssetClass  AssetClass
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Price       int64 // ticks, 0 for market orders
	Quantity    int64
	Remaining   int64
	Status      OrderStatus
	Timestamp   time.Time
}

// IsBuy reports whether the order is on the bid side.
func (o *Order) IsBuy() bool {
	return o.Side == SideBuy
}

// Filled returns the executed quantity.
func (o *Order) Filled() int64 {
	return o.Quantity - o.Remaining
}

// Instrument returns the key of the book the order belongs to.
func (o *Order) Instrument() InstrumentKey {
	return InstrumentKey{AssetClass: o.AssetClass, Symbol: o.Symbol}
}

// EffectiveTimeInForce returns the order's time in force, defaulting to GTC.
func (o *Order) EffectiveTimeInForce() TimeInForce {
	if o.TimeInForce == "" {
		return TimeInForceGTC
	}
	return o.TimeInForce
}
