// Package scheduler owns the per-symbol strategy assignment. It periodically
// asks the regime detector what the market looks like, maps the regime to a
// strategy, and performs guarded stop-before-start switches.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/regime"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/strategy"
)

// SwitchHook is invoked after every committed strategy switch.
type SwitchHook func(symbol string, from, to domain.StrategyKind, r domain.Regime)

// symbolState is the scheduler's mutable record for one symbol.
type symbolState struct {
	domain.StrategyState
	benchedUntil time.Time // performance bench expiry; zero when not benched
}

// Scheduler drives strategy assignment for a fixed symbol set. Exactly one
// strategy owns a symbol at any time; switches stop the old strategy fully
// before starting the new one, and a start failure lands the symbol in
// STANDBY rather than half-switched.
type Scheduler struct {
	cfg      config.SchedulerConfig
	interval time.Duration
	symbols  []string

	detector *regime.Detector
	registry *strategy.Registry
	scorer   domain.Scorer
	logger   *slog.Logger
	onSwitch SwitchHook

	mu     sync.Mutex
	states map[string]*symbolState
}

// New creates a Scheduler for the given symbols, evaluating every interval.
func New(
	cfg config.SchedulerConfig,
	interval time.Duration,
	symbols []string,
	detector *regime.Detector,
	registry *strategy.Registry,
	scorer domain.Scorer,
	logger *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	states := make(map[string]*symbolState, len(symbols))
	for _, sym := range symbols {
		states[sym] = &symbolState{
			StrategyState: domain.StrategyState{
				Symbol:          sym,
				CurrentStrategy: domain.StrategyStandby,
				CurrentRegime:   domain.RegimeUnknown,
			},
		}
	}
	return &Scheduler{
		cfg:      cfg,
		interval: interval,
		symbols:  symbols,
		detector: detector,
		registry: registry,
		scorer:   scorer,
		logger:   logger.With(slog.String("component", "scheduler")),
		states:   states,
	}
}

// OnSwitch registers a hook invoked after every committed switch.
func (s *Scheduler) OnSwitch(fn SwitchHook) { s.onSwitch = fn }

// Run evaluates all symbols on the configured cadence until ctx is
// cancelled, then stops whatever strategies are still running.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Int("symbols", len(s.symbols)))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range s.symbols {
				s.evaluateSymbol(ctx, sym)
			}
		}
	}
}

// States returns snapshot copies of every symbol's state.
func (s *Scheduler) States() []domain.StrategyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StrategyState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.StrategyState)
	}
	return out
}

// State returns the snapshot for one symbol.
func (s *Scheduler) State(symbol string) (domain.StrategyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[symbol]
	if !ok {
		return domain.StrategyState{}, false
	}
	return st.StrategyState, true
}

// strategyFor maps an effective regime to the strategy that should own the
// symbol. Volatile and unknown markets get no strategy at all.
func strategyFor(r domain.Regime) domain.StrategyKind {
	switch r {
	case domain.RegimeTrendingUp, domain.RegimeTrendingDown:
		return domain.StrategyScalping
	case domain.RegimeRanging:
		return domain.StrategyGrid
	default:
		return domain.StrategyStandby
	}
}

// evaluateSymbol runs one scheduling decision for symbol.
func (s *Scheduler) evaluateSymbol(ctx context.Context, symbol string) {
	effective, err := s.detector.Evaluate(ctx, symbol)
	if err != nil {
		s.logger.Warn("regime evaluation failed, keeping current strategy",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UTC()
	desired := strategyFor(effective)
	bypassCooldown := false

	s.mu.Lock()
	st := s.states[symbol]
	st.CurrentRegime = effective
	current := st.CurrentStrategy

	if current != domain.StrategyStandby {
		score := s.scorer.Score(ctx, symbol, current)
		st.PerformanceScore = score
		// A score through the floor unlocks an immediate switch to whatever
		// the regime calls for, cooldown or not. When the regime still wants
		// the failing strategy there is nowhere better to go, so it is
		// benched until the forced timeout elapses.
		if score < s.cfg.PerformanceFloor {
			bypassCooldown = true
			if desired == current {
				desired = domain.StrategyStandby
				st.benchedUntil = now.Add(s.cfg.ForcedTimeout.Duration)
				s.logger.Warn("strategy benched on performance",
					slog.String("symbol", symbol),
					slog.String("strategy", string(current)),
					slog.Float64("score", score),
					slog.Float64("floor", s.cfg.PerformanceFloor),
				)
			} else {
				s.logger.Warn("performance floor reached, switching early",
					slog.String("symbol", symbol),
					slog.String("strategy", string(current)),
					slog.String("desired", string(desired)),
					slog.Float64("score", score),
					slog.Float64("floor", s.cfg.PerformanceFloor),
				)
			}
		}
	}
	if !st.benchedUntil.IsZero() {
		if now.Before(st.benchedUntil) {
			desired = domain.StrategyStandby
		} else {
			st.benchedUntil = time.Time{}
		}
	}

	if desired == current {
		s.mu.Unlock()
		return
	}
	if !bypassCooldown && !st.LastSwitchTime.IsZero() &&
		now.Sub(st.LastSwitchTime) < s.cfg.SwitchCooldown.Duration {
		s.mu.Unlock()
		s.logger.Debug("switch suppressed by cooldown",
			slog.String("symbol", symbol),
			slog.String("current", string(current)),
			slog.String("desired", string(desired)),
		)
		return
	}
	s.mu.Unlock()

	s.switchTo(ctx, symbol, current, desired, effective)
}

// switchTo performs a stop-before-start transition. Any failure on either
// side leaves the symbol in STANDBY so no two strategies ever run at once.
func (s *Scheduler) switchTo(ctx context.Context, symbol string, from, to domain.StrategyKind, r domain.Regime) {
	commit := func(result domain.StrategyKind) {
		s.mu.Lock()
		st := s.states[symbol]
		st.CurrentStrategy = result
		st.LastSwitchTime = time.Now().UTC()
		st.SwitchCount++
		s.mu.Unlock()
	}

	if from != domain.StrategyStandby {
		old, err := s.registry.Get(from)
		if err == nil {
			err = old.Stop(ctx, symbol)
		}
		if err != nil {
			s.logger.Error("strategy stop failed, forcing standby",
				slog.String("symbol", symbol),
				slog.String("strategy", string(from)),
				slog.String("error", err.Error()),
			)
			commit(domain.StrategyStandby)
			return
		}
	}

	if to != domain.StrategyStandby {
		next, err := s.registry.Get(to)
		if err == nil {
			err = next.Start(ctx, symbol)
		}
		if err != nil {
			s.logger.Error("strategy start failed, forcing standby",
				slog.String("symbol", symbol),
				slog.String("strategy", string(to)),
				slog.String("error", err.Error()),
			)
			commit(domain.StrategyStandby)
			return
		}
	}

	commit(to)
	s.logger.Info("strategy switched",
		slog.String("symbol", symbol),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("regime", string(r)),
	)
	if s.onSwitch != nil {
		s.onSwitch(symbol, from, to, r)
	}
}

// shutdown stops every running strategy with a short grace context.
func (s *Scheduler) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	running := make(map[string]domain.StrategyKind)
	for sym, st := range s.states {
		if st.CurrentStrategy != domain.StrategyStandby {
			running[sym] = st.CurrentStrategy
			st.CurrentStrategy = domain.StrategyStandby
		}
	}
	s.mu.Unlock()

	for sym, kind := range running {
		strat, err := s.registry.Get(kind)
		if err == nil {
			err = strat.Stop(ctx, sym)
		}
		if err != nil {
			s.logger.Warn("strategy stop on shutdown failed",
				slog.String("symbol", sym),
				slog.String("strategy", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("scheduler stopped")
}
