// Package grid implements a self-replenishing grid ladder for ranging
// markets. Levels are paper orders: a fill opens an ordinary leveraged
// position that the position monitor manages like any other, and a closed
// fill is replaced by a fresh opposite-side level one spacing further out.
package grid

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
	"github.com/adquadir/crypto-trading-bot-sub002/internal/strategy"
)

// PriceGetter is the slice of the price provider the grid needs.
type PriceGetter interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// PositionViewer lets the grid observe whether its fills are still open.
type PositionViewer interface {
	Get(id string) (domain.Position, bool)
}

// PositionCloser force-closes a position with an explicit reason. Used on
// breakout teardown and on Stop.
type PositionCloser interface {
	ClosePosition(ctx context.Context, id string, reason domain.ExitReason) (domain.CompletedTrade, error)
}

// ladder is the per-symbol grid state.
type ladder struct {
	center  float64
	spacing float64
	levels  []*domain.GridLevel
	cancel  context.CancelFunc
}

// Engine runs one ladder per scheduled symbol. It implements
// strategy.Strategy so the scheduler can start and stop it like the scalper.
type Engine struct {
	cfg       config.GridConfig
	rungStake float64
	interval  time.Duration

	prices    PriceGetter
	exchange  domain.ExchangeClient
	trader    strategy.Trader
	positions PositionViewer
	closer    PositionCloser
	logger    *slog.Logger

	mu      sync.Mutex
	ladders map[string]*ladder
	wg      sync.WaitGroup
}

// NewEngine creates a grid Engine. rungStake is the dollar stake committed
// per filled level; interval is the fill-scan cadence.
func NewEngine(
	cfg config.GridConfig,
	rungStake float64,
	interval time.Duration,
	prices PriceGetter,
	exchange domain.ExchangeClient,
	trader strategy.Trader,
	positions PositionViewer,
	closer PositionCloser,
	logger *slog.Logger,
) *Engine {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		rungStake: rungStake,
		interval:  interval,
		prices:    prices,
		exchange:  exchange,
		trader:    trader,
		positions: positions,
		closer:    closer,
		logger:    logger.With(slog.String("component", "grid_engine")),
		ladders:   make(map[string]*ladder),
	}
}

// Kind implements strategy.Strategy.
func (e *Engine) Kind() domain.StrategyKind { return domain.StrategyGrid }

// Start builds a ladder centered on the current price and launches the fill
// scanner for symbol. Starting an already running symbol is a no-op.
func (e *Engine) Start(ctx context.Context, symbol string) error {
	e.mu.Lock()
	if _, running := e.ladders[symbol]; running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	price, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("grid: start %s: %w", symbol, err)
	}
	spacing, err := e.spacing(ctx, symbol, price)
	if err != nil {
		return fmt.Errorf("grid: start %s: %w", symbol, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	lad := &ladder{
		center:  price,
		spacing: spacing,
		levels:  buildLevels(symbol, price, spacing, e.cfg.Levels, e.rungStake),
		cancel:  cancel,
	}

	e.mu.Lock()
	e.ladders[symbol] = lad
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx, symbol)
	}()

	e.logger.Info("grid ladder built",
		slog.String("symbol", symbol),
		slog.Float64("center", price),
		slog.Float64("spacing", spacing),
		slog.Int("levels", len(lad.levels)),
	)
	return nil
}

// Stop tears the ladder down: the scanner exits, unfilled levels are
// discarded, and every position the grid opened is force-closed.
func (e *Engine) Stop(ctx context.Context, symbol string) error {
	e.mu.Lock()
	lad, running := e.ladders[symbol]
	if running {
		delete(e.ladders, symbol)
	}
	e.mu.Unlock()
	if !running {
		return nil
	}
	lad.cancel()

	e.closeFills(ctx, lad, domain.ExitReasonGridTeardown)
	e.logger.Info("grid ladder torn down", slog.String("symbol", symbol))
	return nil
}

// Levels returns snapshot copies of the symbol's current levels.
func (e *Engine) Levels(symbol string) []domain.GridLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	lad, ok := e.ladders[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.GridLevel, len(lad.levels))
	for i, lv := range lad.levels {
		out[i] = *lv
	}
	return out
}

// spacing derives the inter-level distance from recent ATR, floored by the
// configured minimum percentage of price.
func (e *Engine) spacing(ctx context.Context, symbol string, price float64) (float64, error) {
	window := 30
	candles, err := e.exchange.GetRecentSeries(ctx, symbol, window)
	if err != nil {
		return 0, err
	}
	avgRange := trueRangeAvg(candles)
	spacing := avgRange * e.cfg.SpacingATRMul
	floor := price * e.cfg.MinSpacingPct
	if spacing < floor {
		spacing = floor
	}
	if spacing <= 0 {
		return 0, fmt.Errorf("degenerate spacing for %s", symbol)
	}
	return spacing, nil
}

// buildLevels lays n buy rungs below center and n sell rungs above it.
func buildLevels(symbol string, center, spacing float64, n int, rungStake float64) []*domain.GridLevel {
	levels := make([]*domain.GridLevel, 0, 2*n)
	for i := 1; i <= n; i++ {
		off := spacing * float64(i)
		levels = append(levels, &domain.GridLevel{
			ID:           uuid.New().String(),
			Symbol:       symbol,
			Price:        center - off,
			Side:         domain.GridBuy,
			OrderSize:    rungStake,
			ProfitTarget: center - off + spacing,
		})
		levels = append(levels, &domain.GridLevel{
			ID:           uuid.New().String(),
			Symbol:       symbol,
			Price:        center + off,
			Side:         domain.GridSell,
			OrderSize:    rungStake,
			ProfitTarget: center + off - spacing,
		})
	}
	return levels
}

func (e *Engine) run(ctx context.Context, symbol string) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.scan(ctx, symbol); err != nil {
				e.logger.Warn("grid scan failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// scan is one pass over the ladder: breakout check, fill detection, and
// replacement of levels whose positions have closed.
func (e *Engine) scan(ctx context.Context, symbol string) error {
	price, err := e.prices.GetPrice(ctx, symbol)
	if err != nil {
		return err
	}

	e.mu.Lock()
	lad, ok := e.ladders[symbol]
	if !ok {
		e.mu.Unlock()
		return nil
	}

	// Breakout: price has escaped the band the ladder was built for. Tear
	// everything down and recenter; a trend that persists will move the
	// scheduler off GRID at its next evaluation anyway.
	if math.Abs(price-lad.center)/lad.center > e.cfg.BreakoutPct {
		old := *lad
		lad.center = price
		lad.levels = buildLevels(symbol, price, lad.spacing, e.cfg.Levels, e.rungStake)
		e.mu.Unlock()

		e.logger.Warn("grid breakout, recentering ladder",
			slog.String("symbol", symbol),
			slog.Float64("old_center", old.center),
			slog.Float64("price", price),
		)
		e.closeFills(ctx, &old, domain.ExitReasonGridTeardown)
		return nil
	}

	var (
		toOpen    []*domain.GridLevel
		toReplace []*domain.GridLevel
	)
	for _, lv := range lad.levels {
		if !lv.Filled {
			crossed := (lv.Side == domain.GridBuy && price <= lv.Price) ||
				(lv.Side == domain.GridSell && price >= lv.Price)
			if crossed {
				toOpen = append(toOpen, lv)
			}
			continue
		}
		// Filled level whose position has settled: the rung's round trip is
		// done and the level gets replaced.
		if _, open := e.positions.Get(lv.PositionID); !open {
			toReplace = append(toReplace, lv)
		}
	}
	e.mu.Unlock()

	for _, lv := range toOpen {
		e.fill(ctx, lv, price)
	}
	for _, lv := range toReplace {
		e.replace(symbol, lv)
	}
	return nil
}

// fill opens the position for a crossed level.
func (e *Engine) fill(ctx context.Context, lv *domain.GridLevel, price float64) {
	side := domain.SideLong
	if lv.Side == domain.GridSell {
		side = domain.SideShort
	}
	sig := domain.EntrySignal{
		ID:         uuid.New().String(),
		Symbol:     lv.Symbol,
		Side:       side,
		Strategy:   domain.StrategyGrid,
		Confidence: 1,
		Reason:     fmt.Sprintf("grid level %.2f crossed", lv.Price),
		CreatedAt:  time.Now().UTC(),
	}
	pos, err := e.trader.OpenFromSignal(ctx, sig, lv.OrderSize)
	if err != nil {
		e.logger.Debug("grid fill rejected",
			slog.String("symbol", lv.Symbol),
			slog.Float64("level", lv.Price),
			slog.String("error", err.Error()),
		)
		return
	}

	e.mu.Lock()
	lv.Filled = true
	lv.FillTime = time.Now().UTC()
	lv.PositionID = pos.ID
	e.mu.Unlock()

	e.logger.Info("grid level filled",
		slog.String("symbol", lv.Symbol),
		slog.Float64("level", lv.Price),
		slog.String("side", string(lv.Side)),
		slog.String("position_id", pos.ID),
	)
}

// replace swaps a completed rung for a fresh opposite-side level one spacing
// beyond the old price, keeping the ladder dense around where price trades.
func (e *Engine) replace(symbol string, old *domain.GridLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lad, ok := e.ladders[symbol]
	if !ok {
		return
	}

	side := domain.GridSell
	price := old.Price + lad.spacing
	target := old.Price
	if old.Side == domain.GridSell {
		side = domain.GridBuy
		price = old.Price - lad.spacing
		target = old.Price
	}
	fresh := &domain.GridLevel{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		Price:        price,
		Side:         side,
		OrderSize:    old.OrderSize,
		ProfitTarget: target,
	}

	for i, lv := range lad.levels {
		if lv.ID == old.ID {
			lad.levels[i] = fresh
			break
		}
	}
	e.logger.Debug("grid level replaced",
		slog.String("symbol", symbol),
		slog.Float64("old", old.Price),
		slog.Float64("new", fresh.Price),
		slog.String("new_side", string(side)),
	)
}

// closeFills force-closes every still-open position the ladder opened.
func (e *Engine) closeFills(ctx context.Context, lad *ladder, reason domain.ExitReason) {
	for _, lv := range lad.levels {
		if !lv.Filled || lv.PositionID == "" {
			continue
		}
		if _, open := e.positions.Get(lv.PositionID); !open {
			continue
		}
		if _, err := e.closer.ClosePosition(ctx, lv.PositionID, reason); err != nil {
			e.logger.Warn("grid position close failed",
				slog.String("position_id", lv.PositionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// trueRangeAvg averages the true range across the whole series.
func trueRangeAvg(candles []domain.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(candles); i++ {
		tr := candles[i].High - candles[i].Low
		tr = math.Max(tr, math.Abs(candles[i].High-candles[i-1].Close))
		tr = math.Max(tr, math.Abs(candles[i].Low-candles[i-1].Close))
		sum += tr
	}
	return sum / float64(len(candles)-1)
}

var _ strategy.Strategy = (*Engine)(nil)
