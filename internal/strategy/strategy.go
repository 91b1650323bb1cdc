// Package strategy defines the runnable-strategy contract the scheduler
// drives, a registry for looking strategies up by kind, and the built-in
// momentum scalper.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// Trader is the entry path strategies use to open positions. Implementations
// validate, size, and admit the signal; strategies never touch the ledger
// directly.
type Trader interface {
	OpenFromSignal(ctx context.Context, sig domain.EntrySignal, stakeOverride float64) (domain.Position, error)
}

// Strategy is a per-symbol runnable trading style. Start must be idempotent
// per symbol and return quickly, running its loop in the background; Stop
// must terminate that loop and release any symbol-scoped state before
// returning.
type Strategy interface {
	Kind() domain.StrategyKind
	Start(ctx context.Context, symbol string) error
	Stop(ctx context.Context, symbol string) error
}

// Registry maps strategy kinds to implementations.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyKind]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.StrategyKind]Strategy)}
}

// Register adds s, replacing any previous strategy of the same kind.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Get looks a strategy up by kind.
func (r *Registry) Get(kind domain.StrategyKind) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("strategy: %w: kind %q not registered", domain.ErrNotFound, kind)
	}
	return s, nil
}

// Kinds lists the registered strategy kinds.
func (r *Registry) Kinds() []domain.StrategyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StrategyKind, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	return out
}
