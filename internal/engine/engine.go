// Package engine composes the ledger, monitor, scheduler, and strategies
// into one runnable trading engine and exposes the status surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/grid"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/ledger"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/market"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/monitor"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/risk"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/scheduler"
)

// Runner is a background loop the engine supervises.
type Runner interface {
	Run(ctx context.Context) error
}

// Engine is the top-level composition. It implements strategy.Trader (the
// entry path) and grid.PositionCloser (the forced-exit path).
type Engine struct {
	ledger    *ledger.Ledger
	sizer     *risk.Sizer
	prices    *market.Provider
	monitor   *monitor.Monitor
	scheduler *scheduler.Scheduler
	extra     []Runner // optional loops, e.g. the websocket feed
	logger    *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires an Engine from its core parts. The scheduler is attached
// afterwards with SetScheduler since the strategies it runs need the engine
// as their entry path.
func New(
	lg *ledger.Ledger,
	sizer *risk.Sizer,
	prices *market.Provider,
	mon *monitor.Monitor,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:  lg,
		sizer:   sizer,
		prices:  prices,
		monitor: mon,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// SetScheduler attaches the strategy scheduler. Must be called before Start.
func (e *Engine) SetScheduler(s *scheduler.Scheduler) { e.scheduler = s }

// AddRunner registers an extra supervised loop, e.g. the websocket feed.
func (e *Engine) AddRunner(r Runner) { e.extra = append(e.extra, r) }

// Start launches the monitor, scheduler, and any extra loops. It returns
// once everything is running; failures surface through Stop.
func (e *Engine) Start(ctx context.Context) error {
	if e.cancel != nil {
		return errors.New("engine: already started")
	}
	if e.scheduler == nil {
		return errors.New("engine: no scheduler attached")
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.group = g

	g.Go(func() error { return e.monitor.Run(runCtx) })
	g.Go(func() error { return e.scheduler.Run(runCtx) })
	for _, r := range e.extra {
		r := r
		g.Go(func() error { return r.Run(runCtx) })
	}

	e.logger.Info("engine started")
	return nil
}

// Stop cancels every loop and waits for them to drain. Context cancellation
// is the expected way down and is not reported as an error.
func (e *Engine) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	err := e.group.Wait()
	e.cancel = nil
	e.group = nil

	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("engine stopped with error", slog.String("error", err.Error()))
		return err
	}
	e.logger.Info("engine stopped")
	return nil
}

// CloseAll force-closes every open position, used on shutdown so the run
// ends flat. Busy positions are retried once after a short pause.
func (e *Engine) CloseAll(ctx context.Context) {
	for attempt := 0; attempt < 2; attempt++ {
		open := e.ledger.OpenPositions()
		if len(open) == 0 {
			return
		}
		for _, p := range open {
			if _, err := e.ClosePosition(ctx, p.ID, domain.ExitReasonShutdown); err != nil &&
				!errors.Is(err, domain.ErrNotFound) {
				e.logger.Warn("shutdown close failed",
					slog.String("position_id", p.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// OpenFromSignal implements strategy.Trader: fetch a price, size the signal,
// and admit the position to the ledger.
func (e *Engine) OpenFromSignal(ctx context.Context, sig domain.EntrySignal, stakeOverride float64) (domain.Position, error) {
	price, err := e.prices.GetPrice(ctx, sig.Symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: open %s: %w", sig.Symbol, err)
	}
	pos, err := e.sizer.Size(sig, price, stakeOverride)
	if err != nil {
		return domain.Position{}, err
	}
	if err := e.ledger.Open(ctx, pos); err != nil {
		return domain.Position{}, err
	}
	return *pos, nil
}

// ClosePosition implements grid.PositionCloser: an explicit-reason close at
// the current market price. It competes fairly with the monitor through the
// same per-position lock and status transition.
func (e *Engine) ClosePosition(ctx context.Context, id string, reason domain.ExitReason) (domain.CompletedTrade, error) {
	pos, ok := e.ledger.Get(id)
	if !ok {
		return domain.CompletedTrade{}, fmt.Errorf("engine: close %s: %w", id, domain.ErrNotFound)
	}

	locks := e.ledger.Locks()
	if !locks.TryLock(id) {
		return domain.CompletedTrade{}, fmt.Errorf("engine: close %s: %w", id, domain.ErrPositionBusy)
	}
	defer locks.Unlock(id)

	price, err := e.prices.GetPrice(ctx, pos.Symbol)
	if err != nil {
		// Fall back to the last marked price rather than refusing to close.
		if pos.CurrentPrice <= 0 {
			return domain.CompletedTrade{}, fmt.Errorf("engine: close %s: %w", id, err)
		}
		price = pos.CurrentPrice
	}

	if !e.ledger.MarkClosing(id) {
		return domain.CompletedTrade{}, fmt.Errorf("engine: close %s: %w", id, domain.ErrPositionNotOpen)
	}
	return e.ledger.Settle(ctx, id, price, reason)
}

// GetAccountStatus returns the account snapshot plus monitor liveness.
func (e *Engine) GetAccountStatus() domain.AccountStatus {
	running, haltErr, lastTick := e.monitor.Status()
	st := domain.AccountStatus{
		Account:        e.ledger.Account(),
		MonitorRunning: running,
		LastTick:       lastTick,
	}
	total, _ := e.ledger.OpenCount("")
	st.OpenPositions = total
	if haltErr != nil {
		st.MonitorError = haltErr.Error()
	}
	return st
}

// GetOpenPositions returns snapshot copies of every open position.
func (e *Engine) GetOpenPositions() []domain.Position {
	return e.ledger.OpenPositions()
}

// GetStrategyStatus returns the scheduler's per-symbol states.
func (e *Engine) GetStrategyStatus() []domain.StrategyState {
	return e.scheduler.States()
}

var _ grid.PositionCloser = (*Engine)(nil)
