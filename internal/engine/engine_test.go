package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal_bridge/internal/core"
	"signal_bridge/internal/mock"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine(gw *mock.MockGateway, notifier *mock.MockNotifier) *Engine {
	return New(gw, notifier, &mock.MockLogger{}, 200*time.Millisecond, 5*time.Millisecond)
}

func signal(symbol string, side core.Side, notional string) core.Signal {
	return core.Signal{Symbol: symbol, Side: side, Notional: d(notional), SignalID: "t-1"}
}

func TestTransition_FlatOpensDirect(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	notifier := &mock.MockNotifier{}
	eng := newTestEngine(gw, notifier)

	outcome, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideBuy, "100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOpenedDirect {
		t.Errorf("expected OutcomeOpenedDirect, got %s", outcome)
	}

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected exactly 1 order, got %d", len(orders))
	}
	if orders[0].ReduceOnly {
		t.Error("open order must not be reduce-only")
	}
	if orders[0].Side != core.SideBuy {
		t.Errorf("expected BUY, got %s", orders[0].Side)
	}
	// 100 / 50000 = 0.002, already on the step
	if !orders[0].Quantity.Equal(d("0.002")) {
		t.Errorf("expected quantity 0.002, got %s", orders[0].Quantity)
	}
	if len(notifier.Messages()) != 1 {
		t.Errorf("expected 1 notification, got %d", len(notifier.Messages()))
	}
}

func TestTransition_OpposingClosesThenOpens(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetMarkPrice("BTCUSDT", d("40000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	notifier := &mock.MockNotifier{}
	eng := newTestEngine(gw, notifier)

	outcome, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideSell, "200"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOpenedAfterClose {
		t.Errorf("expected OutcomeOpenedAfterClose, got %s", outcome)
	}

	orders := gw.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders (close then open), got %d", len(orders))
	}

	// The close comes strictly first: reduce-only SELL of the full position.
	if !orders[0].ReduceOnly || orders[0].Side != core.SideSell || !orders[0].Quantity.Equal(d("0.5")) {
		t.Errorf("unexpected close order: %+v", orders[0])
	}
	// Then the open: 200 / 40000 = 0.005.
	if orders[1].ReduceOnly || orders[1].Side != core.SideSell || !orders[1].Quantity.Equal(d("0.005")) {
		t.Errorf("unexpected open order: %+v", orders[1])
	}
	if len(notifier.Messages()) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(notifier.Messages()))
	}
}

func TestTransition_ShortClosedWithBuy(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("ETHUSDT", d("-2"))
	gw.SetMarkPrice("ETHUSDT", d("2000"))
	gw.SetLotStep("ETHUSDT", d("0.01"))
	eng := newTestEngine(gw, &mock.MockNotifier{})

	outcome, err := eng.Transition(context.Background(), signal("ETHUSDT", core.SideBuy, "100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOpenedAfterClose {
		t.Errorf("expected OutcomeOpenedAfterClose, got %s", outcome)
	}

	orders := gw.Orders()
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].Side != core.SideBuy || !orders[0].ReduceOnly || !orders[0].Quantity.Equal(d("2")) {
		t.Errorf("short must be closed with a reduce-only BUY of 2, got %+v", orders[0])
	}
}

func TestTransition_SameDirectionSkipsClose(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	eng := newTestEngine(gw, &mock.MockNotifier{})

	outcome, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideBuy, "100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOpenedDirect {
		t.Errorf("expected OutcomeOpenedDirect, got %s", outcome)
	}
	orders := gw.Orders()
	if len(orders) != 1 || orders[0].ReduceOnly {
		t.Fatalf("expected a single non-reduce-only order, got %+v", orders)
	}
}

func TestTransition_ReduceOnlyClosesOpposing(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	notifier := &mock.MockNotifier{}
	eng := newTestEngine(gw, notifier)

	sig := signal("BTCUSDT", core.SideSell, "200")
	sig.ReduceOnly = true

	outcome, err := eng.Transition(context.Background(), sig)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeClosedOnly {
		t.Errorf("expected OutcomeClosedOnly, got %s", outcome)
	}

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected only the close order, got %d", len(orders))
	}
	if !orders[0].ReduceOnly {
		t.Error("close order must be reduce-only")
	}
	if len(notifier.Messages()) != 1 {
		t.Errorf("expected 1 notification, got %d", len(notifier.Messages()))
	}
}

func TestTransition_ReduceOnlyWithoutOpposingIsNoOp(t *testing.T) {
	tests := []struct {
		name     string
		position string
		side     core.Side
	}{
		{name: "flat position", position: "0", side: core.SideSell},
		{name: "same direction long", position: "0.5", side: core.SideBuy},
		{name: "same direction short", position: "-0.5", side: core.SideSell},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := mock.NewMockGateway()
			gw.SetPosition("BTCUSDT", d(tt.position))
			eng := newTestEngine(gw, &mock.MockNotifier{})

			sig := signal("BTCUSDT", tt.side, "200")
			sig.ReduceOnly = true

			outcome, err := eng.Transition(context.Background(), sig)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if outcome != OutcomeNoOp {
				t.Errorf("expected OutcomeNoOp, got %s", outcome)
			}
			if len(gw.Orders()) != 0 {
				t.Errorf("expected no orders, got %d", len(gw.Orders()))
			}
		})
	}
}

func TestTransition_NonPositiveNotionalRejected(t *testing.T) {
	gw := mock.NewMockGateway()
	eng := newTestEngine(gw, &mock.MockNotifier{})

	_, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideBuy, "0"))
	if !errors.Is(err, ErrInvalidNotional) {
		t.Fatalf("expected ErrInvalidNotional, got %v", err)
	}
	if len(gw.Orders()) != 0 {
		t.Errorf("expected no orders, got %d", len(gw.Orders()))
	}
}

func TestTransition_NotionalBelowOneLotStep(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	eng := newTestEngine(gw, &mock.MockNotifier{})

	// 1 / 50000 = 0.00002, floors to zero at a 0.001 step.
	_, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideBuy, "1"))
	if !errors.Is(err, ErrInvalidNotional) {
		t.Fatalf("expected ErrInvalidNotional, got %v", err)
	}
	if len(gw.Orders()) != 0 {
		t.Errorf("expected no orders, got %d", len(gw.Orders()))
	}
}

func TestTransition_CloseTimeoutBlocksOpen(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	gw.NeverFlatten = true
	eng := New(gw, &mock.MockNotifier{}, &mock.MockLogger{}, 50*time.Millisecond, 5*time.Millisecond)

	_, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideSell, "200"))
	if !errors.Is(err, ErrCloseTimeout) {
		t.Fatalf("expected ErrCloseTimeout, got %v", err)
	}

	// Only the close attempt; the open must never happen after an
	// unconfirmed close.
	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if !orders[0].ReduceOnly {
		t.Error("the only order should be the reduce-only close")
	}
}

func TestTransition_CloseConfirmedAfterSeveralPolls(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	gw.FlattenAfterPolls = 3
	eng := newTestEngine(gw, &mock.MockNotifier{})

	outcome, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideSell, "200"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOpenedAfterClose {
		t.Errorf("expected OutcomeOpenedAfterClose, got %s", outcome)
	}
	if len(gw.Orders()) != 2 {
		t.Errorf("expected 2 orders, got %d", len(gw.Orders()))
	}
}

func TestTransition_CloseRejectionAborts(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	gw.PlaceOrderErr = func(call mock.OrderCall) error {
		if call.ReduceOnly {
			return errors.New("order rejected")
		}
		return nil
	}
	eng := newTestEngine(gw, &mock.MockNotifier{})

	_, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideSell, "200"))
	if !errors.Is(err, ErrCloseFailed) {
		t.Fatalf("expected ErrCloseFailed, got %v", err)
	}
	if len(gw.Orders()) != 0 {
		t.Errorf("expected no filled orders, got %d", len(gw.Orders()))
	}
}

func TestTransition_OpenFailureLeavesFlat(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.5"))
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.001"))
	gw.PlaceOrderErr = func(call mock.OrderCall) error {
		if !call.ReduceOnly {
			return errors.New("insufficient margin")
		}
		return nil
	}
	eng := newTestEngine(gw, &mock.MockNotifier{})

	_, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideSell, "200"))
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}

	// The close went through and stays closed. No rollback, no reopen.
	orders := gw.Orders()
	if len(orders) != 1 || !orders[0].ReduceOnly {
		t.Fatalf("expected only the close order, got %+v", orders)
	}
}

func TestTransition_PositionQueryFailure(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.PositionErr = errors.New("exchange down")
	eng := newTestEngine(gw, &mock.MockNotifier{})

	_, err := eng.Transition(context.Background(), signal("BTCUSDT", core.SideBuy, "100"))
	if !errors.Is(err, ErrPositionQuery) {
		t.Fatalf("expected ErrPositionQuery, got %v", err)
	}
	if len(gw.Orders()) != 0 {
		t.Errorf("expected no orders, got %d", len(gw.Orders()))
	}
}

func TestTransition_CloseQuantityRoundedToStep(t *testing.T) {
	gw := mock.NewMockGateway()
	gw.SetPosition("BTCUSDT", d("0.12345"))
	gw.SetMarkPrice("BTCUSDT", d("50000"))
	gw.SetLotStep("BTCUSDT", d("0.01"))
	eng := newTestEngine(gw, &mock.MockNotifier{})

	sig := signal("BTCUSDT", core.SideSell, "200")
	sig.ReduceOnly = true

	if _, err := eng.Transition(context.Background(), sig); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orders := gw.Orders()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if !orders[0].Quantity.Equal(d("0.12")) {
		t.Errorf("expected close quantity rounded to 0.12, got %s", orders[0].Quantity)
	}
}
