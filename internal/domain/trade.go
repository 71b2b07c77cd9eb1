package domain

import "time"

// Trade is a single execution between a resting (maker) order and an
// incoming (taker) order. Price is always the maker's price.
type Trade struct {
	ID          string
	Symbol      string
	AssetClass  AssetClass
	Price       int64 // ticks
	Quantity    int64
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	Timestamp   time.Time
}
