// Package engine implements the position transition state machine
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signal_bridge/internal/core"
	"signal_bridge/pkg/retry"
	"signal_bridge/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Positions smaller than this count as flat; matches the exchange's own
// dust reporting.
var flatEpsilon = decimal.New(1, -8)

// Engine turns a desired side+notional into the exchange operations that
// realize it: inspect the current position, close an opposing one with a
// reduce-only order, confirm the close, then open the new position sized
// by notional at the mark price.
//
// Transitions for the same symbol are serialized with a keyed lock, so two
// concurrent signals cannot interleave their read-position/place-order
// sequences. Different symbols proceed fully concurrently.
type Engine struct {
	gateway      core.IGateway
	notifier     core.INotifier
	logger       core.ILogger
	closeWait    time.Duration
	pollInterval time.Duration

	locks sync.Map // symbol -> *sync.Mutex
}

// New creates a transition engine
func New(gateway core.IGateway, notifier core.INotifier, logger core.ILogger, closeWait, pollInterval time.Duration) *Engine {
	return &Engine{
		gateway:      gateway,
		notifier:     notifier,
		logger:       logger.WithField("component", "transition_engine"),
		closeWait:    closeWait,
		pollInterval: pollInterval,
	}
}

// Transition executes one signal against the account. The returned error,
// when non-nil, wraps one of the failure classes in outcome.go.
func (e *Engine) Transition(ctx context.Context, sig core.Signal) (Outcome, error) {
	lock := e.symbolLock(sig.Symbol)
	lock.Lock()
	defer lock.Unlock()

	// Fresh read, never the snapshot cache: this quantity sizes a real
	// close order.
	pos, err := e.gateway.GetPosition(ctx, sig.Symbol)
	if err != nil {
		return OutcomeNoOp, fmt.Errorf("%w: %w", ErrPositionQuery, err)
	}

	q := pos.Quantity
	needClose := (q.IsPositive() && sig.Side == core.SideSell) ||
		(q.IsNegative() && sig.Side == core.SideBuy)

	e.logger.Info("Transition decision",
		"symbol", sig.Symbol, "side", sig.Side, "notional", sig.Notional,
		"position", q, "need_close", needClose, "reduce_only", sig.ReduceOnly)

	// Reduce-only signals never open new exposure.
	if sig.ReduceOnly {
		if !needClose {
			return OutcomeNoOp, nil
		}
		if err := e.closeAndConfirm(ctx, sig.Symbol, q); err != nil {
			return OutcomeNoOp, err
		}
		e.notifier.Notify(ctx, fmt.Sprintf("📉 Closed %s due to reduceOnly (signalId=%s)", sig.Symbol, sig.SignalID))
		return OutcomeClosedOnly, nil
	}

	closed := false
	if needClose {
		// An unconfirmed close must abort the whole transition: opening
		// on top of it would stack unintended net exposure.
		if err := e.closeAndConfirm(ctx, sig.Symbol, q); err != nil {
			return OutcomeNoOp, err
		}
		closed = true
		e.notifier.Notify(ctx, fmt.Sprintf("📉 Closed opposite position for %s (signalId=%s)", sig.Symbol, sig.SignalID))
	}

	if !sig.Notional.IsPositive() {
		return OutcomeNoOp, fmt.Errorf("%w: notional %s", ErrInvalidNotional, sig.Notional)
	}

	qty, err := e.sizeOrder(ctx, sig.Symbol, sig.Notional)
	if err != nil {
		return OutcomeNoOp, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	if qty.IsZero() {
		return OutcomeNoOp, fmt.Errorf("%w: notional %s below one lot step", ErrInvalidNotional, sig.Notional)
	}

	if _, err := e.gateway.PlaceMarketOrder(ctx, sig.Symbol, sig.Side, qty, false); err != nil {
		// Fail toward flat: the opposing position, if closed above, stays
		// closed. No rollback, no retry.
		return OutcomeNoOp, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	e.notifier.Notify(ctx, fmt.Sprintf("📈 Opened %s %s notional=%s (signalId=%s)", sig.Side, sig.Symbol, sig.Notional, sig.SignalID))

	if closed {
		return OutcomeOpenedAfterClose, nil
	}
	return OutcomeOpenedDirect, nil
}

// closeAndConfirm places a reduce-only market order for the full opposing
// quantity and blocks until the exchange reports the position flat or the
// close-wait deadline elapses.
func (e *Engine) closeAndConfirm(ctx context.Context, symbol string, positionQty decimal.Decimal) error {
	closeSide := core.SideSell
	if positionQty.IsNegative() {
		closeSide = core.SideBuy
	}

	qty := positionQty.Abs()
	step, err := e.gateway.GetLotStep(ctx, symbol)
	if err != nil {
		e.logger.Warn("Lot step lookup failed, closing unrounded", "symbol", symbol, "error", err)
	} else {
		qty = tradingutils.RoundToStep(qty, step)
	}

	if _, err := e.gateway.PlaceMarketOrder(ctx, symbol, closeSide, qty, true); err != nil {
		return fmt.Errorf("%w: %w", ErrCloseFailed, err)
	}

	e.logger.Info("Waiting for position to close",
		"symbol", symbol, "timeout", e.closeWait, "poll_interval", e.pollInterval)

	err = retry.Poll(ctx, e.pollInterval, e.closeWait, func(ctx context.Context) (bool, error) {
		pos, perr := e.gateway.GetPosition(ctx, symbol)
		if perr != nil {
			// Transient read failures keep the poll alive; the deadline
			// still bounds the whole wait.
			e.logger.Warn("Position poll failed", "symbol", symbol, "error", perr)
			return false, nil
		}
		e.logger.Debug("Position poll", "symbol", symbol, "quantity", pos.Quantity)
		return pos.Quantity.Abs().LessThan(flatEpsilon), nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrDeadlineExceeded) {
			return fmt.Errorf("%w: %s not flat after %s", ErrCloseTimeout, symbol, e.closeWait)
		}
		return fmt.Errorf("%w: %w", ErrCloseFailed, err)
	}
	return nil
}

// sizeOrder converts a quote notional into a base quantity at the current
// mark price, floored to the symbol's lot step.
func (e *Engine) sizeOrder(ctx context.Context, symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	price, err := e.gateway.GetMarkPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive mark price %s for %s", price, symbol)
	}

	step, err := e.gateway.GetLotStep(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	return tradingutils.QuantityForNotional(notional, price, step), nil
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	l, _ := e.locks.LoadOrStore(symbol, &sync.Mutex{})
	return l.(*sync.Mutex)
}
