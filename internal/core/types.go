package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is an order direction as the exchange spells it
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other direction
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether the side is one of BUY/SELL
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Signal is a normalized inbound trade signal. It lives for the duration of
// one webhook request and is never persisted.
type Signal struct {
	Symbol     string
	Side       Side
	Notional   decimal.Decimal
	ReduceOnly bool
	SignalID   string
}

// Position is a snapshot of the account's position for one symbol.
// Quantity is signed: positive = long, negative = short, zero = flat.
type Position struct {
	Symbol     string
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	FetchedAt  time.Time
}

// IsFlat reports whether the position has no exposure
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// SymbolFilter carries the exchange trading rules the bridge cares about.
// Trading rules change rarely, so they are cached for the process lifetime.
type SymbolFilter struct {
	Symbol   string
	StepSize decimal.Decimal
}

// OrderResult is the exchange's acknowledgement of a market order
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	Status        string
	ReduceOnly    bool
}
