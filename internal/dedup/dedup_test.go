package dedup

import (
	"testing"
	"time"

	"signal_bridge/internal/core"

	"github.com/shopspring/decimal"
)

func sig(id, symbol string, side core.Side, notional string) core.Signal {
	return core.Signal{
		Symbol:   symbol,
		Side:     side,
		Notional: decimal.RequireFromString(notional),
		SignalID: id,
	}
}

func TestAdmit_DuplicateID(t *testing.T) {
	d := New(time.Hour, time.Second)
	now := time.Now()

	ok, _ := d.Admit(sig("abc", "BTCUSDT", core.SideBuy, "100"), now)
	if !ok {
		t.Fatal("first delivery must be admitted")
	}

	// Same signalId hours apart within retention, even with different
	// trade parameters.
	ok, reason := d.Admit(sig("abc", "ETHUSDT", core.SideSell, "50"), now.Add(30*time.Minute))
	if ok {
		t.Fatal("replayed signalId must be rejected")
	}
	if reason != ReasonDuplicateID {
		t.Errorf("expected ReasonDuplicateID, got %q", reason)
	}
}

func TestAdmit_RapidDuplicateUnderFreshID(t *testing.T) {
	d := New(time.Hour, time.Second)
	now := time.Now()

	ok, _ := d.Admit(sig("id-1", "BTCUSDT", core.SideBuy, "100"), now)
	if !ok {
		t.Fatal("first delivery must be admitted")
	}

	// Same trade, new signalId, inside the rapid window.
	ok, reason := d.Admit(sig("id-2", "BTCUSDT", core.SideBuy, "100"), now.Add(500*time.Millisecond))
	if ok {
		t.Fatal("rapid re-delivery must be rejected")
	}
	if reason != ReasonQuickDuplicate {
		t.Errorf("expected ReasonQuickDuplicate, got %q", reason)
	}

	// Outside the rapid window the same trade is a new signal again.
	ok, _ = d.Admit(sig("id-3", "BTCUSDT", core.SideBuy, "100"), now.Add(2*time.Second))
	if !ok {
		t.Fatal("composite match outside the rapid window must be admitted")
	}
}

func TestAdmit_WithoutSignalID(t *testing.T) {
	d := New(time.Hour, time.Second)
	now := time.Now()

	ok, _ := d.Admit(sig("", "BTCUSDT", core.SideBuy, "100"), now)
	if !ok {
		t.Fatal("first delivery must be admitted")
	}

	ok, reason := d.Admit(sig("", "BTCUSDT", core.SideBuy, "100"), now.Add(100*time.Millisecond))
	if ok {
		t.Fatal("identical trade inside the rapid window must be rejected")
	}
	if reason != ReasonQuickDuplicate {
		t.Errorf("expected ReasonQuickDuplicate, got %q", reason)
	}

	// A different trade is fine immediately.
	ok, _ = d.Admit(sig("", "BTCUSDT", core.SideSell, "100"), now.Add(100*time.Millisecond))
	if !ok {
		t.Fatal("different side must be admitted")
	}
}

func TestAdmit_RetentionEviction(t *testing.T) {
	d := New(time.Minute, time.Second)
	now := time.Now()

	d.Admit(sig("old", "BTCUSDT", core.SideBuy, "100"), now)
	if d.Len() != 2 {
		t.Fatalf("expected 2 records (id + composite), got %d", d.Len())
	}

	// After retention the signalId is forgotten and re-admitted.
	ok, _ := d.Admit(sig("old", "BTCUSDT", core.SideBuy, "100"), now.Add(2*time.Minute))
	if !ok {
		t.Fatal("expired signalId must be admitted again")
	}
	if d.Len() != 2 {
		t.Errorf("expected old records evicted, got %d live", d.Len())
	}
}

func TestCompositeKey(t *testing.T) {
	got := CompositeKey(sig("x", "BTCUSDT", core.SideSell, "200"))
	if got != "BTCUSDT|SELL|200" {
		t.Errorf("unexpected composite key %q", got)
	}
}
