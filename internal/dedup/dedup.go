// Package dedup tracks recently processed signals to absorb re-delivery
package dedup

import (
	"fmt"
	"sync"
	"time"

	"signal_bridge/internal/core"
)

// Reason says why a signal was rejected
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonDuplicateID    Reason = "duplicate_signal"
	ReasonQuickDuplicate Reason = "quick_duplicate"
)

// Deduplicator remembers processed signal keys for a bounded retention
// window. Two layers: an exact signalId match within the retention window,
// and a composite (symbol|side|notional) match within a short rapid window
// that catches re-deliveries arriving under a fresh signalId.
//
// A signal without a signalId is identified by its composite key alone, so
// two genuine distinct signals with identical symbol/side/notional inside
// the rapid window are merged. That imprecision is accepted, not a bug.
type Deduplicator struct {
	mu          sync.Mutex
	byID        map[string]time.Time
	byComposite map[string]time.Time
	retention   time.Duration
	rapidWindow time.Duration
}

// New creates a deduplicator with the given retention and rapid-duplicate
// windows
func New(retention, rapidWindow time.Duration) *Deduplicator {
	return &Deduplicator{
		byID:        make(map[string]time.Time),
		byComposite: make(map[string]time.Time),
		retention:   retention,
		rapidWindow: rapidWindow,
	}
}

// CompositeKey derives the fallback identity of a signal
func CompositeKey(sig core.Signal) string {
	return fmt.Sprintf("%s|%s|%s", sig.Symbol, sig.Side, sig.Notional.String())
}

// Admit decides whether a signal should be processed. The check and the
// insert happen under one lock so two concurrent deliveries of the same
// signal cannot both be admitted. Expired records are evicted lazily here;
// there is no background sweeper.
func (d *Deduplicator) Admit(sig core.Signal, now time.Time) (bool, Reason) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cleanup(now)

	if sig.SignalID != "" {
		if _, seen := d.byID[sig.SignalID]; seen {
			return false, ReasonDuplicateID
		}
	}

	composite := CompositeKey(sig)
	if ts, seen := d.byComposite[composite]; seen && now.Sub(ts) < d.rapidWindow {
		return false, ReasonQuickDuplicate
	}

	if sig.SignalID != "" {
		d.byID[sig.SignalID] = now
	}
	d.byComposite[composite] = now
	return true, ReasonNone
}

// Len returns the number of live records, for introspection and tests
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID) + len(d.byComposite)
}

// cleanup drops records older than the retention window. O(n) per call is
// fine at webhook signal volume. Caller must hold the lock.
func (d *Deduplicator) cleanup(now time.Time) {
	for k, ts := range d.byID {
		if now.Sub(ts) > d.retention {
			delete(d.byID, k)
		}
	}
	for k, ts := range d.byComposite {
		if now.Sub(ts) > d.retention {
			delete(d.byComposite, k)
		}
	}
}
