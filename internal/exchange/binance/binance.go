// Package binance provides Binance USDT-M futures connectivity
package binance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signal_bridge/internal/config"
	"signal_bridge/internal/core"
	"signal_bridge/internal/exchange"
	apperrors "signal_bridge/pkg/errors"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway implements core.IGateway against the Binance futures REST API.
// Read-only calls retry briefly on rate limiting; order placement never
// does, so a rate-limited placement surfaces to the caller instead of
// risking a duplicate order.
type Gateway struct {
	client    *futures.Client
	snapshots *exchange.SnapshotStore
	logger    core.ILogger

	filterMu sync.RWMutex
	filters  map[string]*core.SymbolFilter
}

// NewGateway creates a gateway from exchange credentials
func NewGateway(cfg *config.ExchangeConfig, snapshots *exchange.SnapshotStore, logger core.ILogger) *Gateway {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &Gateway{
		client:    client,
		snapshots: snapshots,
		logger:    logger.WithField("component", "binance_gateway"),
		filters:   make(map[string]*core.SymbolFilter),
	}
}

func (g *Gateway) Name() string {
	return "binance"
}

// Ping verifies REST connectivity
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.client.NewPingService().Do(ctx); err != nil {
		return classifyError(err)
	}
	return nil
}

// GetPosition returns the signed position for a symbol. The exchange
// reporting no record means flat, never an error. Every fresh read also
// refreshes the snapshot store for status queries.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	risks, err := fetchWithRetry(ctx, func() ([]*futures.PositionRisk, error) {
		res, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		if err != nil {
			return nil, classifyError(err)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	pos := &core.Position{Symbol: symbol, FetchedAt: time.Now()}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		qty, qErr := decimal.NewFromString(r.PositionAmt)
		if qErr != nil {
			return nil, fmt.Errorf("unparsable position amount %q for %s: %w", r.PositionAmt, symbol, qErr)
		}
		entry, eErr := decimal.NewFromString(r.EntryPrice)
		if eErr != nil {
			entry = decimal.Zero
		}
		pos.Quantity = qty
		pos.EntryPrice = entry
		break
	}

	g.snapshots.Put(pos)
	return pos, nil
}

// GetMarkPrice returns the current mark price for a symbol
func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	indexes, err := fetchWithRetry(ctx, func() ([]*futures.PremiumIndex, error) {
		res, err := g.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return nil, classifyError(err)
		}
		return res, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	for _, idx := range indexes {
		if idx.Symbol != symbol {
			continue
		}
		price, pErr := decimal.NewFromString(idx.MarkPrice)
		if pErr != nil {
			return decimal.Zero, fmt.Errorf("unparsable mark price %q for %s: %w", idx.MarkPrice, symbol, pErr)
		}
		return price, nil
	}
	return decimal.Zero, &apperrors.ExchangeError{Message: "no mark price for " + symbol, Kind: apperrors.ErrInvalidSymbol}
}

// GetLotStep returns the LOT_SIZE step for a symbol. Exchange trading
// rules change rarely, so filters are cached for the process lifetime and
// fetched only on a miss.
func (g *Gateway) GetLotStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.filterMu.RLock()
	f, ok := g.filters[symbol]
	g.filterMu.RUnlock()
	if ok {
		return f.StepSize, nil
	}

	info, err := fetchWithRetry(ctx, func() (*futures.ExchangeInfo, error) {
		res, err := g.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, classifyError(err)
		}
		return res, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	g.filterMu.Lock()
	for i := range info.Symbols {
		s := &info.Symbols[i]
		lot := s.LotSizeFilter()
		if lot == nil {
			continue
		}
		step, sErr := decimal.NewFromString(lot.StepSize)
		if sErr != nil {
			continue
		}
		g.filters[s.Symbol] = &core.SymbolFilter{Symbol: s.Symbol, StepSize: step}
	}
	f, ok = g.filters[symbol]
	g.filterMu.Unlock()

	if !ok {
		// Unknown symbol: let the order attempt surface the real error,
		// a zero step just skips rounding.
		g.logger.Warn("No LOT_SIZE filter found", "symbol", symbol)
		return decimal.Zero, nil
	}
	return f.StepSize, nil
}

// PlaceMarketOrder submits a market order, optionally reduce-only
func (g *Gateway) PlaceMarketOrder(ctx context.Context, symbol string, side core.Side, quantity decimal.Decimal, reduceOnly bool) (*core.OrderResult, error) {
	clientOrderID := fmt.Sprintf("sb-%s", uuid.New().String()[:13])

	svc := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	g.logger.Info("Placing market order",
		"symbol", symbol, "side", side, "quantity", quantity, "reduce_only", reduceOnly,
		"client_order_id", clientOrderID)

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	result := &core.OrderResult{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          core.Side(res.Side),
		Quantity:      quantity,
		ExecutedQty:   parseDecimal(res.ExecutedQuantity),
		AvgPrice:      parseDecimal(res.AvgPrice),
		Status:        string(res.Status),
		ReduceOnly:    reduceOnly,
	}

	// A fill changes the position; the cached snapshot is now stale.
	g.snapshots.Evict(symbol)

	g.logger.Info("Market order placed",
		"symbol", symbol, "order_id", result.OrderID, "status", result.Status)
	return result, nil
}

// GetBalance returns the futures wallet balance for an asset
func (g *Gateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := fetchWithRetry(ctx, func() ([]*futures.Balance, error) {
		res, err := g.client.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, classifyError(err)
		}
		return res, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	for _, b := range balances {
		if b.Asset == asset {
			return parseDecimal(b.Balance), nil
		}
	}
	return decimal.Zero, nil
}

// fetchWithRetry runs a read-only exchange call with bounded backoff on
// rate limiting and transport faults
func fetchWithRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	policy := retrypolicy.NewBuilder[T]().
		HandleIf(func(_ T, err error) bool {
			return apperrors.IsRetryableRead(err)
		}).
		WithBackoff(250*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		Build()

	return failsafe.With[T](policy).WithContext(ctx).Get(fn)
}

// classifyError maps Binance API error codes to the standardized kinds.
// Anything that never reached the matching engine counts as a network
// fault.
func classifyError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var kind error
	switch apiErr.Code {
	case -1003, -1015:
		kind = apperrors.ErrRateLimitExceeded
	case -2014, -2015, -1022:
		kind = apperrors.ErrAuthenticationFailed
	case -2010, -2019:
		kind = apperrors.ErrInsufficientFunds
	case -1121:
		kind = apperrors.ErrInvalidSymbol
	case -2022, -4164:
		kind = apperrors.ErrOrderRejected
	}

	return &apperrors.ExchangeError{Code: apiErr.Code, Message: apiErr.Message, Kind: kind}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
