// Package memory implements the trade log in process memory. It is the
// authoritative log for a paper-trading run; the postgres sink, when
// enabled, is a durable copy.
package memory

import (
	"context"
	"sync"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// TradeStore is an append-only in-memory trade log, safe for concurrent use.
type TradeStore struct {
	mu     sync.RWMutex
	trades []domain.CompletedTrade
	byID   map[string]struct{}
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{byID: make(map[string]struct{})}
}

// Append implements domain.TradeSink. Re-appending an id is a no-op, matching
// the postgres sink's conflict behavior.
func (s *TradeStore) Append(_ context.Context, t domain.CompletedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[t.ID]; dup {
		return nil
	}
	s.byID[t.ID] = struct{}{}
	s.trades = append(s.trades, t)
	return nil
}

// ListRecent returns the most recent trades, newest first, optionally
// filtered by symbol.
func (s *TradeStore) ListRecent(_ context.Context, symbol string, limit int) ([]domain.CompletedTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CompletedTrade, 0, limit)
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol != "" && s.trades[i].Symbol != symbol {
			continue
		}
		out = append(out, s.trades[i])
	}
	return out, nil
}

// Count returns the total number of completed trades.
func (s *TradeStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.trades)), nil
}

var _ domain.TradeLog = (*TradeStore)(nil)
