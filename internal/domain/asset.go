package domain

import (
	"fmt"
	"strings"
)

// AssetClass groups instruments that share trading conventions.
type AssetClass string

const (
	AssetClassCrypto      AssetClass = "CRYPTO"
	AssetClassForex       AssetClass = "FOREX"
	AssetClassStocks      AssetClass = "STOCKS"
	AssetClassBonds       AssetClass = "BONDS"
	AssetClassETF         AssetClass = "ETF"
	AssetClassCommodities AssetClass = "COMMODITIES"
	AssetClassOptions     AssetClass = "OPTIONS"
	AssetClassFutures     AssetClass = "FUTURES"
)

// SupportedAssetClasses lists every asset class the engine accepts, in
// display order.
var SupportedAssetClasses = []AssetClass{
	AssetClassCrypto,
	AssetClassForex,
	AssetClassStocks,
	AssetClassBonds,
	AssetClassETF,
	AssetClassCommodities,
	AssetClassOptions,
	AssetClassFutures,
}

// Supported reports whether a is in SupportedAssetClasses.
func (a AssetClass) Supported() bool {
	for _, s := range SupportedAssetClasses {
		if a == s {
			return true
		}
	}
	return false
}

// ParseAssetClass normalizes user input ("crypto", " Crypto ") to the
// canonical upper-case form. It does not check support.
func ParseAssetClass(s string) AssetClass {
	return AssetClass(strings.ToUpper(strings.TrimSpace(s)))
}

// InstrumentKey identifies one order book.
type InstrumentKey struct {
	AssetClass AssetClass
	Symbol     string
}

// String renders the key as "ASSET_CLASS:SYMBOL", the form used for metrics
// maps and message keys.
func (k InstrumentKey) String() string {
	return fmt.Sprintf("%s:%s", k.AssetClass, k.Symbol)
}

// ParseInstrumentKey is the inverse of InstrumentKey.String.
func ParseInstrumentKey(s string) (InstrumentKey, error) {
	class, symbol, ok := strings.Cut(s, ":")
	if !ok || class == "" || symbol == "" {
		return InstrumentKey{}, fmt.Errorf("invalid instrument key %q", s)
	}
	return InstrumentKey{AssetClass: AssetClass(class), Symbol: symbol}, nil
}
