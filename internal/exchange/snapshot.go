// Package exchange provides gateway-adjacent stores shared across requests
package exchange

import (
	"sync"
	"time"

	"signal_bridge/internal/core"
)

// SnapshotStore is a TTL-bounded cache of position snapshots, one per
// symbol. It exists to serve read-only status queries without another
// round trip to the exchange. The transition path never reads from it:
// any amount used to size a real order comes from a fresh gateway call.
type SnapshotStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*core.Position
}

// NewSnapshotStore creates a snapshot store with the given TTL
func NewSnapshotStore(ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{
		ttl:     ttl,
		entries: make(map[string]*core.Position),
	}
}

// Get returns the cached snapshot for a symbol if it is still fresh
func (s *SnapshotStore) Get(symbol string, now time.Time) (*core.Position, bool) {
	s.mu.RLock()
	pos, ok := s.entries[symbol]
	s.mu.RUnlock()

	if !ok || now.Sub(pos.FetchedAt) > s.ttl {
		return nil, false
	}
	return pos, true
}

// Put stores a snapshot, replacing any previous one for the symbol
func (s *SnapshotStore) Put(pos *core.Position) {
	s.mu.Lock()
	s.entries[pos.Symbol] = pos
	s.mu.Unlock()
}

// Evict drops the snapshot for a symbol
func (s *SnapshotStore) Evict(symbol string) {
	s.mu.Lock()
	delete(s.entries, symbol)
	s.mu.Unlock()
}
