package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundToStep truncates a quantity down to a multiple of the exchange's lot
// step. Truncation is always toward zero, never up: rounding up can push an
// order past the available margin and get it rejected. A zero step means the
// symbol has no lot constraint and the quantity passes through unchanged.
func RoundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// QuantityForNotional converts a quote-currency notional into a base-asset
// quantity at the given mark price, rounded down to the lot step.
func QuantityForNotional(notional, markPrice, step decimal.Decimal) decimal.Decimal {
	if markPrice.IsZero() {
		return decimal.Zero
	}
	return RoundToStep(notional.Div(markPrice), step)
}
