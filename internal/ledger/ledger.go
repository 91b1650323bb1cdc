// Package ledger owns the set of open positions and all capital accounting.
// Every mutation of position or account state flows through here; readers get
// snapshot copies so no caller ever holds the ledger lock across I/O.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// stakeEpsilon bounds the rounding error allowed when checking the
// quantity*entry/leverage == stake invariant at open time.
const stakeEpsilon = 1e-6

// Ledger tracks open positions and the virtual account. A coarse map-level
// lock guards the shared maps; per-position close exclusivity is delegated to
// a KeyedLocks instance shared with the monitor.
type Ledger struct {
	mu        sync.RWMutex
	account   domain.Account
	positions map[string]*domain.Position

	locks *KeyedLocks
	log   domain.TradeLog
	sinks []domain.TradeSink

	logger *slog.Logger
}

// New creates a Ledger with the given starting balance. Completed trades are
// appended to log and to every extra sink (e.g. the durable postgres store).
func New(initialBalance float64, log domain.TradeLog, logger *slog.Logger, extra ...domain.TradeSink) *Ledger {
	return &Ledger{
		account: domain.Account{
			Balance:     initialBalance,
			Equity:      initialBalance,
			PeakBalance: initialBalance,
		},
		positions: make(map[string]*domain.Position),
		locks:     NewKeyedLocks(),
		log:       log,
		sinks:     extra,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Locks exposes the per-position lock map shared with the monitor loop.
func (l *Ledger) Locks() *KeyedLocks {
	return l.locks
}

// Open registers a new position and commits its stake. The position must
// satisfy quantity*entry/leverage == stake; violations are rejected rather
// than silently corrected since they indicate a sizing bug upstream.
func (l *Ledger) Open(ctx context.Context, p *domain.Position) error {
	if p.Quantity <= 0 || p.EntryPrice <= 0 || p.Leverage <= 0 {
		return fmt.Errorf("ledger: open %s: non-positive quantity/price/leverage", p.Symbol)
	}
	implied := p.Quantity * p.EntryPrice / p.Leverage
	if math.Abs(implied-p.Stake) > stakeEpsilon*math.Max(1, p.Stake) {
		return fmt.Errorf("ledger: open %s: stake %.8f inconsistent with qty*entry/leverage %.8f",
			p.Symbol, p.Stake, implied)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.account.Balance < p.Stake {
		return fmt.Errorf("ledger: open %s: %w: stake %.2f exceeds balance %.2f",
			p.Symbol, domain.ErrRiskRejected, p.Stake, l.account.Balance)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.EntryTime.IsZero() {
		p.EntryTime = time.Now().UTC()
	}
	p.Status = domain.PositionStatusOpen
	p.CurrentPrice = p.EntryPrice

	l.account.Balance -= p.Stake
	l.account.Allocated += p.Stake
	l.positions[p.ID] = p

	l.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("side", string(p.Side)),
		slog.String("strategy", string(p.Strategy)),
		slog.Float64("entry", p.EntryPrice),
		slog.Float64("stake", p.Stake),
	)
	return nil
}

// Get returns a copy of the position with the given id.
func (l *Ledger) Get(id string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// OpenPositions returns snapshot copies of every open position. Safe to call
// concurrently with the monitor loop.
func (l *Ledger) OpenPositions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// OpenCount returns the number of open positions, and how many of them are
// on the given symbol.
func (l *Ledger) OpenCount(symbol string) (total, onSymbol int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.positions {
		total++
		if p.Symbol == symbol {
			onSymbol++
		}
	}
	return total, onSymbol
}

// Balance returns the current free balance.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account.Balance
}

// AllocatedStake returns the total stake committed to open positions.
func (l *Ledger) AllocatedStake() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account.Allocated
}

// Account returns a snapshot of the account, with equity marked to the
// latest observed prices.
func (l *Ledger) Account() domain.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc := l.account
	acc.Equity = acc.Balance + acc.Allocated
	for _, p := range l.positions {
		acc.Equity += p.NetPnL(p.CurrentPrice)
	}
	return acc
}

// ApplyEvaluation persists the per-tick mutations for a position: current
// price, unrealized PnL, the monotonic high-water mark, and the sticky floor
// flag. Regressions of either invariant are ignored defensively.
func (l *Ledger) ApplyEvaluation(id string, price, grossPnL, highestProfit float64, floorActivated bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return
	}
	p.CurrentPrice = price
	p.UnrealizedPnL = grossPnL
	if highestProfit > p.HighestProfit {
		p.HighestProfit = highestProfit
	}
	if floorActivated {
		p.FloorActivated = true
	}
}

// MarkClosing transitions a position from OPEN to CLOSING. It returns false
// when the position is missing or already past OPEN, which callers must treat
// as "someone else is closing it".
func (l *Ledger) MarkClosing(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok || p.Status != domain.PositionStatusOpen {
		return false
	}
	p.Status = domain.PositionStatusClosing
	return true
}

// Settle finalizes a CLOSING position: it re-validates the status, applies
// the PnL to the account, removes the position from the open set, appends
// exactly one CompletedTrade to the sinks, and evicts the per-position lock.
//
// The status re-validation is the last line of defense against double
// settlement; callers must already hold the per-position lock.
func (l *Ledger) Settle(ctx context.Context, id string, exitPrice float64, reason domain.ExitReason) (domain.CompletedTrade, error) {
	l.mu.Lock()
	p, ok := l.positions[id]
	if !ok {
		l.mu.Unlock()
		return domain.CompletedTrade{}, fmt.Errorf("ledger: settle %s: %w", id, domain.ErrNotFound)
	}
	if p.Status != domain.PositionStatusClosing {
		l.mu.Unlock()
		return domain.CompletedTrade{}, fmt.Errorf("ledger: settle %s: status %s: %w",
			id, p.Status, domain.ErrPositionNotOpen)
	}

	now := time.Now().UTC()
	fees := p.RoundTripFee()
	net := p.NetPnL(exitPrice)

	p.Status = domain.PositionStatusClosed
	delete(l.positions, id)

	l.account.Allocated -= p.Stake
	l.account.Balance += p.Stake + net
	l.account.RealizedPnL += net
	l.account.TotalTrades++
	if net >= 0 {
		l.account.WinningTrades++
	} else {
		l.account.LosingTrades++
	}
	if l.account.Balance > l.account.PeakBalance {
		l.account.PeakBalance = l.account.Balance
	}
	if l.account.PeakBalance > 0 {
		dd := (l.account.PeakBalance - l.account.Balance) / l.account.PeakBalance
		if dd > l.account.MaxDrawdown {
			l.account.MaxDrawdown = dd
		}
	}

	trade := domain.CompletedTrade{
		ID:         uuid.New().String(),
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Strategy:   p.Strategy,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		Leverage:   p.Leverage,
		Stake:      p.Stake,
		NetPnL:     net,
		Fees:       fees,
		ExitReason: reason,
		EntryTime:  p.EntryTime,
		ExitTime:   now,
		Duration:   now.Sub(p.EntryTime),
	}
	l.mu.Unlock()

	if err := l.log.Append(ctx, trade); err != nil {
		l.logger.ErrorContext(ctx, "trade log append failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, s := range l.sinks {
		if err := s.Append(ctx, trade); err != nil {
			// Durable sinks are best-effort; the in-memory log is authoritative.
			l.logger.WarnContext(ctx, "trade sink append failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	l.locks.Evict(id)

	l.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", p.ID),
		slog.String("symbol", p.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("net_pnl", net),
	)
	return trade, nil
}

// TradeLog exposes the in-memory completed-trade log for status queries and
// performance scoring.
func (l *Ledger) TradeLog() domain.TradeLog {
	return l.log
}
