// Package core defines the shared types and interfaces of the signal bridge
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IGateway is the contract against the futures exchange. All operations are
// blocking REST calls; implementations surface typed failures from
// pkg/errors so callers can distinguish transport faults from rejections.
type IGateway interface {
	// Name returns the exchange identifier
	Name() string

	// Ping verifies connectivity to the exchange
	Ping(ctx context.Context) error

	// GetPosition returns the current signed position for a symbol.
	// A symbol the exchange has no record of is a flat position, not an error.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// GetMarkPrice returns the current mark price for a symbol
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetLotStep returns the LOT_SIZE step for a symbol, cached for the
	// process lifetime and refreshed on cache miss only
	GetLotStep(ctx context.Context, symbol string) (decimal.Decimal, error)

	// PlaceMarketOrder submits a market order. Never retried internally:
	// a rate-limited placement surfaces as an error to the caller.
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal, reduceOnly bool) (*OrderResult, error)

	// GetBalance returns the wallet balance for an asset
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// INotifier delivers human-readable status messages. Delivery is best
// effort: failures are logged by the implementation and never propagated.
type INotifier interface {
	Notify(ctx context.Context, text string)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
