package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale converts between decimal prices/quantities and the fixed-point
// integers the engine works with. Tick is the smallest price increment and
// Step the smallest quantity increment.
type Scale struct {
	Tick decimal.Decimal
	Step decimal.Decimal
}

func mustScale(tick, step string) Scale {
	return Scale{
		Tick: decimal.RequireFromString(tick),
		Step: decimal.RequireFromString(step),
	}
}

// defaultScales holds the per-asset-class conventions.
var defaultScales = map[AssetClass]Scale{
	AssetClassCrypto:      mustScale("0.01", "0.00000001"),
	AssetClassForex:       mustScale("0.00001", "1"),
	AssetClassStocks:      mustScale("0.01", "1"),
	AssetClassBonds:       mustScale("0.001", "1"),
	AssetClassETF:         mustScale("0.01", "1"),
	AssetClassCommodities: mustScale("0.01", "0.001"),
	AssetClassOptions:     mustScale("0.01", "1"),
	AssetClassFutures:     mustScale("0.01", "1"),
}

// ScaleFor returns the scale for an asset class. Unknown classes get a
// 0.01 tick and unit step.
func ScaleFor(a AssetClass) Scale {
	if s, ok := defaultScales[a]; ok {
		return s
	}
	return mustScale("0.01", "1")
}

// PriceToTicks converts a decimal price into ticks. The price must be an
// exact multiple of the tick.
func (s Scale) PriceToTicks(price decimal.Decimal) (int64, error) {
	return toUnits(price, s.Tick)
}

// QuantityToSteps converts a decimal quantity into steps. The quantity must
// be an exact multiple of the step.
func (s Scale) QuantityToSteps(qty decimal.Decimal) (int64, error) {
	return toUnits(qty, s.Step)
}

// TicksToPrice converts ticks back to a decimal price.
func (s Scale) TicksToPrice(ticks int64) decimal.Decimal {
	return s.Tick.Mul(decimal.NewFromInt(ticks))
}

// StepsToQuantity converts steps back to a decimal quantity.
func (s Scale) StepsToQuantity(steps int64) decimal.Decimal {
	return s.Step.Mul(decimal.NewFromInt(steps))
}

func toUnits(v, unit decimal.Decimal) (int64, error) {
	if !v.Mod(unit).IsZero() {
		return 0, fmt.Errorf("%w: %s is not a multiple of %s", ErrOffScale, v, unit)
	}
	units := v.Div(unit)
	n := units.IntPart()
	if !decimal.NewFromInt(n).Equal(units) {
		return 0, fmt.Errorf("%w: %s overflows", ErrOffScale, v)
	}
	return n, nil
}
