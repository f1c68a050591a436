package server

import (
	"encoding/json"
	"strings"

	"signal_bridge/internal/core"

	"github.com/shopspring/decimal"
)

// webhookPayload is the raw inbound body. The signal source is sloppy
// about field names and numeric types, so amounts are captured raw and
// resolved by precedence below.
type webhookPayload struct {
	Symbol     string          `json:"symbol"`
	Ticker     string          `json:"ticker"`
	Side       string          `json:"side"`
	Amount     json.RawMessage `json:"amount"`
	Notional   json.RawMessage `json:"notional"`
	Quote      json.RawMessage `json:"quote"`
	Quantity   json.RawMessage `json:"quantity"`
	SignalID   string          `json:"signalId"`
	ReduceOnly bool            `json:"reduceOnly"`
}

// symbolSuffixes are market tags and exchange qualifiers the signal source
// appends to ticker names. Longer suffixes first so ".P" cannot chew a hole
// out of ".PERP".
var symbolSuffixes = []string{":BINANCEFUTURES", ":BINANCE", ".PERP", ".FUT", ".P"}

// normalizeSymbol turns a source ticker like "BTCUSDT.P" or "btc/usdt"
// into the exchange's spelling
func normalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, suf := range symbolSuffixes {
		s = strings.ReplaceAll(s, suf, "")
	}
	s = strings.ReplaceAll(s, "/", "")
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// notional resolves the order size from the first present of the accepted
// field names. A missing or unparsable value is zero, which the engine
// rejects for opening requests.
func (p *webhookPayload) notional() decimal.Decimal {
	for _, raw := range []json.RawMessage{p.Amount, p.Notional, p.Quote, p.Quantity} {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		return parseAmount(raw)
	}
	return decimal.Zero
}

// parseAmount accepts both JSON numbers and numeric strings
func parseAmount(raw json.RawMessage) decimal.Decimal {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// toSignal normalizes the payload into a Signal. The returned problem
// string is empty when the signal is valid.
func (p *webhookPayload) toSignal() (core.Signal, string) {
	rawSymbol := p.Symbol
	if rawSymbol == "" {
		rawSymbol = p.Ticker
	}
	if rawSymbol == "" {
		return core.Signal{}, "no symbol"
	}

	symbol := normalizeSymbol(rawSymbol)
	if symbol == "" {
		return core.Signal{}, "no symbol"
	}

	side := core.Side(strings.ToUpper(strings.TrimSpace(p.Side)))
	if !side.Valid() {
		return core.Signal{}, "invalid side"
	}

	return core.Signal{
		Symbol:     symbol,
		Side:       side,
		Notional:   p.notional(),
		ReduceOnly: p.ReduceOnly,
		SignalID:   p.SignalID,
	}, ""
}
