package scheduler

import (
	"context"
	"log/slog"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// PnLScorer is the default performance scorer: the sum of realized net PnL
// over the last window completed trades for the symbol and strategy. A symbol
// with no history scores zero, which keeps fresh strategies above any
// negative performance floor.
type PnLScorer struct {
	log    domain.TradeLog
	window int
	logger *slog.Logger
}

// NewPnLScorer creates a scorer reading from the given trade log.
func NewPnLScorer(log domain.TradeLog, window int, logger *slog.Logger) *PnLScorer {
	if window < 1 {
		window = 10
	}
	return &PnLScorer{
		log:    log,
		window: window,
		logger: logger.With(slog.String("component", "pnl_scorer")),
	}
}

// Score implements domain.Scorer.
func (s *PnLScorer) Score(ctx context.Context, symbol string, strat domain.StrategyKind) float64 {
	trades, err := s.log.ListRecent(ctx, symbol, s.window*4)
	if err != nil {
		s.logger.Warn("score lookup failed, returning neutral",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return 0
	}
	var (
		sum float64
		n   int
	)
	for _, t := range trades {
		if t.Strategy != strat {
			continue
		}
		sum += t.NetPnL
		n++
		if n >= s.window {
			break
		}
	}
	return sum
}

var _ domain.Scorer = (*PnLScorer)(nil)
