// Package mock provides fakes for testing the trading path
package mock

import (
	"context"
	"sync"
	"time"

	"signal_bridge/internal/core"

	"github.com/shopspring/decimal"
)

// OrderCall records one PlaceMarketOrder invocation
type OrderCall struct {
	Symbol     string
	Side       core.Side
	Quantity   decimal.Decimal
	ReduceOnly bool
}

// MockGateway implements core.IGateway for tests. Positions, prices and
// lot steps are scripted; order placements are recorded. A reduce-only
// order marks the position as closing, and the position reads flat after
// FlattenAfterPolls subsequent GetPosition calls (zero means the very next
// poll already sees flat) unless NeverFlatten is set.
type MockGateway struct {
	mu sync.Mutex

	positions   map[string]decimal.Decimal
	entryPrices map[string]decimal.Decimal
	markPrices  map[string]decimal.Decimal
	steps       map[string]decimal.Decimal
	balances    map[string]decimal.Decimal

	orders []OrderCall

	// Scripted behavior
	FlattenAfterPolls int
	NeverFlatten      bool
	PingErr           error
	PositionErr       error
	MarkPriceErr      error
	PlaceOrderErr     func(call OrderCall) error

	closePending    map[string]bool
	pollsSinceClose map[string]int

	positionCalls int
	totalCalls    int
}

// NewMockGateway creates an empty mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		positions:       make(map[string]decimal.Decimal),
		entryPrices:     make(map[string]decimal.Decimal),
		markPrices:      make(map[string]decimal.Decimal),
		steps:           make(map[string]decimal.Decimal),
		balances:        make(map[string]decimal.Decimal),
		closePending:    make(map[string]bool),
		pollsSinceClose: make(map[string]int),
	}
}

func (m *MockGateway) Name() string {
	return "mock"
}

// SetPosition scripts the signed position for a symbol
func (m *MockGateway) SetPosition(symbol string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = qty
}

// SetMarkPrice scripts the mark price for a symbol
func (m *MockGateway) SetMarkPrice(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markPrices[symbol] = price
}

// SetLotStep scripts the lot step for a symbol
func (m *MockGateway) SetLotStep(symbol string, step decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[symbol] = step
}

// SetBalance scripts the wallet balance for an asset
func (m *MockGateway) SetBalance(asset string, bal decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = bal
}

// Orders returns a copy of the recorded order calls
func (m *MockGateway) Orders() []OrderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OrderCall, len(m.orders))
	copy(out, m.orders)
	return out
}

// TotalCalls returns the number of gateway calls made
func (m *MockGateway) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCalls
}

func (m *MockGateway) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	return m.PingErr
}

func (m *MockGateway) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	m.positionCalls++

	if m.PositionErr != nil {
		return nil, m.PositionErr
	}

	if m.closePending[symbol] && !m.NeverFlatten {
		if m.pollsSinceClose[symbol] >= m.FlattenAfterPolls {
			m.positions[symbol] = decimal.Zero
			m.closePending[symbol] = false
		} else {
			m.pollsSinceClose[symbol]++
		}
	}

	return &core.Position{
		Symbol:     symbol,
		Quantity:   m.positions[symbol],
		EntryPrice: m.entryPrices[symbol],
		FetchedAt:  time.Now(),
	}, nil
}

func (m *MockGateway) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++

	if m.MarkPriceErr != nil {
		return decimal.Zero, m.MarkPriceErr
	}
	return m.markPrices[symbol], nil
}

func (m *MockGateway) GetLotStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	return m.steps[symbol], nil
}

func (m *MockGateway) PlaceMarketOrder(ctx context.Context, symbol string, side core.Side, quantity decimal.Decimal, reduceOnly bool) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++

	call := OrderCall{Symbol: symbol, Side: side, Quantity: quantity, ReduceOnly: reduceOnly}
	if m.PlaceOrderErr != nil {
		if err := m.PlaceOrderErr(call); err != nil {
			return nil, err
		}
	}

	m.orders = append(m.orders, call)

	if reduceOnly {
		m.closePending[symbol] = true
		m.pollsSinceClose[symbol] = 0
	} else {
		delta := quantity
		if side == core.SideSell {
			delta = quantity.Neg()
		}
		m.positions[symbol] = m.positions[symbol].Add(delta)
	}

	return &core.OrderResult{
		OrderID:       int64(1000 + len(m.orders)),
		ClientOrderID: "mock",
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		ExecutedQty:   quantity,
		Status:        "FILLED",
		ReduceOnly:    reduceOnly,
	}, nil
}

func (m *MockGateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalCalls++
	return m.balances[asset], nil
}

// MockNotifier implements core.INotifier and records delivered messages
type MockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *MockNotifier) Notify(ctx context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

// Messages returns a copy of the delivered messages
func (n *MockNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

// MockLogger implements core.ILogger and discards everything
type MockLogger struct{}

func (m *MockLogger) Debug(msg string, f ...interface{})               {}
func (m *MockLogger) Info(msg string, f ...interface{})                {}
func (m *MockLogger) Warn(msg string, f ...interface{})                {}
func (m *MockLogger) Error(msg string, f ...interface{})               {}
func (m *MockLogger) Fatal(msg string, f ...interface{})               {}
func (m *MockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *MockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }
