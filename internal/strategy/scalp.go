package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// Scalper rides short-term momentum in trending regimes. It samples the
// recent candle series on a fixed interval and opens a position in the
// direction of the fast/slow EMA separation once momentum and confidence
// clear their thresholds. An ATR gate keeps it flat when intrabar ranges
// get too violent for a tight-exit entry.
type Scalper struct {
	cfg      config.ScalpConfig
	interval time.Duration
	exchange domain.ExchangeClient
	trader   Trader
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewScalper creates a Scalper evaluating each symbol every interval.
func NewScalper(cfg config.ScalpConfig, interval time.Duration, exchange domain.ExchangeClient, trader Trader, logger *slog.Logger) *Scalper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scalper{
		cfg:      cfg,
		interval: interval,
		exchange: exchange,
		trader:   trader,
		logger:   logger.With(slog.String("component", "scalper")),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Kind implements Strategy.
func (s *Scalper) Kind() domain.StrategyKind { return domain.StrategyScalping }

// Start launches the evaluation loop for symbol. Starting an already running
// symbol is a no-op.
func (s *Scalper) Start(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.cancels[symbol]; running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancels[symbol] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, symbol)
	}()

	s.logger.Info("scalper started", slog.String("symbol", symbol))
	return nil
}

// Stop terminates the loop for symbol. Open positions are left to the
// monitor; the scalper only stops producing new entries.
func (s *Scalper) Stop(_ context.Context, symbol string) error {
	s.mu.Lock()
	cancel, running := s.cancels[symbol]
	if running {
		delete(s.cancels, symbol)
	}
	s.mu.Unlock()
	if running {
		cancel()
		s.logger.Info("scalper stopped", slog.String("symbol", symbol))
	}
	return nil
}

func (s *Scalper) run(ctx context.Context, symbol string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.evaluate(ctx, symbol); err != nil {
				s.logger.Debug("scalp evaluation skipped",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// evaluate samples the series and opens at most one position per call.
func (s *Scalper) evaluate(ctx context.Context, symbol string) error {
	window := s.cfg.SlowEMA * 3
	candles, err := s.exchange.GetRecentSeries(ctx, symbol, window)
	if err != nil {
		return fmt.Errorf("strategy: scalp series %s: %w", symbol, err)
	}
	if len(candles) < s.cfg.SlowEMA+1 {
		return fmt.Errorf("strategy: scalp %s: %w", symbol, domain.ErrInsufficientData)
	}

	if s.cfg.MaxATRPct > 0 && atrPct(candles, s.cfg.SlowEMA) > s.cfg.MaxATRPct {
		// Ranges this wide belong to the volatile regime; momentum entries
		// here get stopped out before the move develops.
		return nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	fast := emaLast(closes, s.cfg.FastEMA)
	slow := emaLast(closes, s.cfg.SlowEMA)
	if slow <= 0 {
		return fmt.Errorf("strategy: scalp %s: degenerate series", symbol)
	}

	momentum := (fast - slow) / slow
	if math.Abs(momentum) < s.cfg.MinMomentum {
		return nil
	}

	side := domain.SideLong
	if momentum < 0 {
		side = domain.SideShort
	}
	confidence := math.Min(1, 0.5+math.Abs(momentum)/(s.cfg.MinMomentum*4))
	if confidence < s.cfg.MinConfidence {
		return nil
	}

	sig := domain.EntrySignal{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       side,
		Strategy:   domain.StrategyScalping,
		Confidence: confidence,
		Reason:     fmt.Sprintf("momentum %.4f fast/slow ema", momentum),
		CreatedAt:  time.Now().UTC(),
	}

	pos, err := s.trader.OpenFromSignal(ctx, sig, 0)
	if err != nil {
		// Risk rejections are routine under position limits.
		s.logger.Debug("scalp entry rejected",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.logger.Info("scalp entry opened",
		slog.String("symbol", symbol),
		slog.String("position_id", pos.ID),
		slog.String("side", string(side)),
		slog.Float64("confidence", confidence),
	)
	return nil
}

// atrPct is the average true range over the last period candles, as a
// fraction of the latest close.
func atrPct(candles []domain.Candle, period int) float64 {
	if len(candles) < 2 || period < 1 {
		return 0
	}
	start := len(candles) - period
	if start < 1 {
		start = 1
	}
	var sum float64
	for i := start; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		tr = math.Max(tr, math.Abs(candles[i].High-candles[i-1].Close))
		tr = math.Max(tr, math.Abs(candles[i].Low-candles[i-1].Close))
		sum += tr
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0
	}
	return sum / float64(len(candles)-start) / last
}

// emaLast is a local EMA over the full series, seeded by the first period's
// simple average.
func emaLast(values []float64, period int) float64 {
	if len(values) < period || period < 1 {
		return 0
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	out := seed / float64(period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		out = v*k + out*(1-k)
	}
	return out
}

var _ Strategy = (*Scalper)(nil)
