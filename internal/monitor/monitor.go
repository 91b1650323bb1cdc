// Package monitor drives the exit-rule engine over all open positions on an
// adaptive cadence and performs at-most-once closes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/exitrule"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/ledger"
)

// PriceGetter is the slice of the price provider the monitor needs.
type PriceGetter interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Config tunes the monitor cadence and failure policy.
type Config struct {
	BaseInterval         time.Duration
	MinInterval          time.Duration
	MaxInterval          time.Duration
	FastThreshold        int // open-position count above which polling speeds up
	MaxConsecutiveErrors int
}

// Monitor owns the tick loop that evaluates and closes positions. A position
// is closed by exactly one tick: the per-position try-lock plus the
// OPEN→CLOSING transition plus the settle-time status re-validation make a
// second concurrent close observe a non-OPEN status and back off.
type Monitor struct {
	cfg    Config
	ledger *ledger.Ledger
	rules  *exitrule.Engine
	prices PriceGetter
	logger *slog.Logger

	// onClose and onHalt are optional hooks the engine uses for
	// notifications; both may be nil.
	onClose func(domain.CompletedTrade)
	onHalt  func(error)

	mu       sync.Mutex
	running  bool
	haltErr  error
	lastTick time.Time
}

// New creates a Monitor over the given ledger.
func New(cfg Config, lg *ledger.Ledger, rules *exitrule.Engine, prices PriceGetter, logger *slog.Logger) *Monitor {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 3 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.BaseInterval
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	return &Monitor{
		cfg:    cfg,
		ledger: lg,
		rules:  rules,
		prices: prices,
		logger: logger.With(slog.String("component", "position_monitor")),
	}
}

// OnClose registers a hook invoked after every settled trade.
func (m *Monitor) OnClose(fn func(domain.CompletedTrade)) { m.onClose = fn }

// OnHalt registers a hook invoked when the loop gives up after repeated
// failures.
func (m *Monitor) OnHalt(fn func(error)) { m.onHalt = fn }

// Status reports whether the loop is alive, the halt error if any, and the
// time of the last completed tick.
func (m *Monitor) Status() (running bool, haltErr error, lastTick time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, m.haltErr, m.lastTick
}

// Run executes the tick loop until ctx is cancelled or the consecutive-error
// budget is exhausted. An in-flight tick always completes before the loop
// exits so accounting is never left half-applied.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	m.running = true
	m.haltErr = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.logger.Info("position monitor started")
	defer m.logger.Info("position monitor stopped")

	consecutive := 0
	for {
		if err := m.tick(ctx); err != nil {
			consecutive++
			m.logger.Error("monitor tick failed",
				slog.Int("consecutive", consecutive),
				slog.String("error", err.Error()),
			)
			if consecutive >= m.cfg.MaxConsecutiveErrors {
				halt := fmt.Errorf("%w: %d consecutive tick failures: %v",
					domain.ErrMonitorHalted, consecutive, err)
				m.mu.Lock()
				m.haltErr = halt
				m.mu.Unlock()
				if m.onHalt != nil {
					m.onHalt(halt)
				}
				return halt
			}
			// Exponential backoff before the next attempt, bounded by the
			// slow end of the cadence.
			backoff := m.cfg.MinInterval << consecutive
			if backoff > m.cfg.MaxInterval {
				backoff = m.cfg.MaxInterval
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		consecutive = 0

		m.mu.Lock()
		m.lastTick = time.Now().UTC()
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval()):
		}
	}
}

// interval adapts the cadence to load: many open positions poll at the fast
// bound, none at the slow bound.
func (m *Monitor) interval() time.Duration {
	total, _ := m.ledger.OpenCount("")
	switch {
	case total == 0:
		return m.cfg.MaxInterval
	case total >= m.cfg.FastThreshold:
		return m.cfg.MinInterval
	default:
		return m.cfg.BaseInterval
	}
}

// tick evaluates a snapshot of the open set. Per-position failures are
// logged and skipped; only a panic escalates to a tick-level error.
func (m *Monitor) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor: tick panic: %v", r)
		}
	}()

	// Snapshot to avoid mutation-during-iteration hazards; positions opened
	// after this point are picked up next tick.
	for _, pos := range m.ledger.OpenPositions() {
		if ctx.Err() != nil {
			return nil
		}
		m.evaluateOne(ctx, pos)
	}
	return nil
}

// evaluateOne processes a single position under its try-lock. A busy
// position is skipped, never awaited.
func (m *Monitor) evaluateOne(ctx context.Context, pos domain.Position) {
	locks := m.ledger.Locks()
	if !locks.TryLock(pos.ID) {
		return
	}
	defer locks.Unlock(pos.ID)

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("position evaluation panicked",
				slog.String("position_id", pos.ID),
				slog.Any("panic", r),
			)
		}
	}()

	price, err := m.prices.GetPrice(ctx, pos.Symbol)
	if err != nil {
		// Missing data is never a reason to close; try again next tick.
		m.logger.Warn("price fetch failed, skipping position",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	ev := m.rules.Evaluate(&pos, price)
	m.ledger.ApplyEvaluation(pos.ID, price, ev.GrossPnL, ev.HighestProfit, ev.FloorActivated)

	if ev.Exit == nil {
		return
	}

	if !m.ledger.MarkClosing(pos.ID) {
		// Another closer won the race; the at-most-once design makes this
		// unreachable while we hold the lock, so log and move on.
		m.logger.Warn("close race detected, skipping",
			slog.String("position_id", pos.ID),
		)
		return
	}

	trade, err := m.ledger.Settle(ctx, pos.ID, price, ev.Exit.Reason)
	if err != nil {
		m.logger.Error("settlement failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if m.onClose != nil {
		m.onClose(trade)
	}
}
