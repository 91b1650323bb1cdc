// Package risk converts validated entry signals into concretely sized
// positions, enforcing the account-level exposure limits.
package risk

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// AccountView is the slice of the ledger the sizer reads. It never mutates
// account state; admission is checked again atomically at open time.
type AccountView interface {
	Balance() float64
	AllocatedStake() float64
	OpenCount(symbol string) (total, onSymbol int)
}

// Sizer builds positions from signals. Sizing is deterministic: stake is a
// fixed fraction of the current free balance and quantity follows from stake,
// leverage, and the entry price.
type Sizer struct {
	trading config.TradingConfig
	exit    config.ExitConfig
	account AccountView
	logger  *slog.Logger
}

// NewSizer creates a Sizer reading limits from cfg and balances from account.
func NewSizer(cfg config.Config, account AccountView, logger *slog.Logger) *Sizer {
	return &Sizer{
		trading: cfg.Trading,
		exit:    cfg.Exit,
		account: account,
		logger:  logger.With(slog.String("component", "risk_sizer")),
	}
}

// Size validates the signal against the exposure limits and returns a fully
// populated position ready for the ledger. Overrides with stake > 0 replace
// the default fractional stake, which grid strategies use to size individual
// rungs.
func (s *Sizer) Size(sig domain.EntrySignal, price, stakeOverride float64) (*domain.Position, error) {
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("risk: size %s: %w", sig.Symbol, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("risk: size %s: non-positive price %g", sig.Symbol, price)
	}

	total, onSymbol := s.account.OpenCount(sig.Symbol)
	if total >= s.trading.MaxPositions {
		return nil, fmt.Errorf("risk: size %s: %w: open positions %d at limit %d",
			sig.Symbol, domain.ErrRiskRejected, total, s.trading.MaxPositions)
	}
	if onSymbol >= s.trading.MaxPositionsPerSymbol {
		return nil, fmt.Errorf("risk: size %s: %w: %d positions on symbol at limit %d",
			sig.Symbol, domain.ErrRiskRejected, onSymbol, s.trading.MaxPositionsPerSymbol)
	}

	balance := s.account.Balance()
	stake := balance * s.trading.StakeFraction
	if stakeOverride > 0 {
		stake = stakeOverride
	}
	if stake <= 0 || stake > balance {
		return nil, fmt.Errorf("risk: size %s: %w: stake %.2f with free balance %.2f",
			sig.Symbol, domain.ErrRiskRejected, stake, balance)
	}

	allocated := s.account.AllocatedStake()
	maxAlloc := (balance + allocated) * s.trading.MaxAllocationFraction
	if allocated+stake > maxAlloc {
		return nil, fmt.Errorf("risk: size %s: %w: allocation %.2f would exceed cap %.2f",
			sig.Symbol, domain.ErrRiskRejected, allocated+stake, maxAlloc)
	}

	qty := stake * s.trading.Leverage / price

	p := &domain.Position{
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Strategy:    sig.Strategy,
		EntryPrice:  price,
		Quantity:    qty,
		Leverage:    s.trading.Leverage,
		Stake:       stake,
		FeeRate:     s.trading.FeeRate,
		EntryTime:   time.Now().UTC(),
		TargetNet:   s.exit.TargetDollars,
		FloorNet:    s.exit.FloorDollars,
		StopLossNet: s.exit.StopLossDollars,
		FailsafeNet: s.exit.FailsafeDollars,
	}

	s.logger.Debug("position sized",
		slog.String("symbol", p.Symbol),
		slog.String("side", string(p.Side)),
		slog.Float64("stake", p.Stake),
		slog.Float64("quantity", p.Quantity),
	)
	return p, nil
}
