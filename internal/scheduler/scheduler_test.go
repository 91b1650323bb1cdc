package scheduler

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/regime"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/strategy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStrategy records lifecycle calls and can fail on demand.
type fakeStrategy struct {
	mu       sync.Mutex
	kind     domain.StrategyKind
	starts   int
	stops    int
	startErr error
	stopErr  error
}

func (f *fakeStrategy) Kind() domain.StrategyKind { return f.kind }

func (f *fakeStrategy) Start(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeStrategy) Stop(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops++
	return nil
}

func (f *fakeStrategy) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// stubScorer returns a fixed score.
type stubScorer struct{ score float64 }

func (s *stubScorer) Score(context.Context, string, domain.StrategyKind) float64 {
	return s.score
}

// candleExchange serves a swappable candle series.
type candleExchange struct {
	mu      sync.Mutex
	candles []domain.Candle
}

func (c *candleExchange) GetPrice(context.Context, string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candles[len(c.candles)-1].Close, nil
}

func (c *candleExchange) GetRecentSeries(_ context.Context, _ string, window int) ([]domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.candles) > window {
		return c.candles[len(c.candles)-window:], nil
	}
	return c.candles, nil
}

func (c *candleExchange) set(candles []domain.Candle) {
	c.mu.Lock()
	c.candles = candles
	c.mu.Unlock()
}

func synthCandles(rangePct float64, step func(i int) float64) []domain.Candle {
	out := make([]domain.Candle, 50)
	for i := range out {
		v := step(i)
		out[i] = domain.Candle{
			OpenTime: time.Now().Add(-time.Duration(50-i) * time.Minute),
			Open:     v, High: v * (1 + rangePct), Low: v * (1 - rangePct), Close: v,
		}
	}
	return out
}

func trendingUpCandles() []domain.Candle {
	return synthCandles(0.001, func(i int) float64 { return 100 * math.Pow(1.004, float64(i)) })
}

func rangingCandles() []domain.Candle {
	return synthCandles(0.003, func(i int) float64 { return 100 + 0.2*math.Sin(float64(i)/3) })
}

type fixture struct {
	sched  *Scheduler
	ex     *candleExchange
	scalp  *fakeStrategy
	grid   *fakeStrategy
	scorer *stubScorer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Scheduler.SwitchCooldown.Duration = time.Hour
	cfg.Scheduler.ForcedTimeout.Duration = time.Hour
	cfg.Scheduler.PerformanceFloor = -50
	// A one-slot buffer makes each reading immediately effective.
	cfg.Regime.BufferSize = 1

	ex := &candleExchange{candles: trendingUpCandles()}
	det := regime.NewDetector(cfg.Regime, ex, testLogger())

	scalp := &fakeStrategy{kind: domain.StrategyScalping}
	grid := &fakeStrategy{kind: domain.StrategyGrid}
	reg := strategy.NewRegistry()
	reg.Register(scalp)
	reg.Register(grid)

	scorer := &stubScorer{}
	sched := New(cfg.Scheduler, time.Minute, []string{"BTCUSDT"}, det, reg, scorer, testLogger())
	return &fixture{sched: sched, ex: ex, scalp: scalp, grid: grid, scorer: scorer}
}

func TestStrategyForMapping(t *testing.T) {
	assert.Equal(t, domain.StrategyScalping, strategyFor(domain.RegimeTrendingUp))
	assert.Equal(t, domain.StrategyScalping, strategyFor(domain.RegimeTrendingDown))
	assert.Equal(t, domain.StrategyGrid, strategyFor(domain.RegimeRanging))
	assert.Equal(t, domain.StrategyStandby, strategyFor(domain.RegimeVolatile))
	assert.Equal(t, domain.StrategyStandby, strategyFor(domain.RegimeUnknown))
}

func TestEvaluateSwitchesOnRegime(t *testing.T) {
	f := newFixture(t)

	var hooked []domain.StrategyKind
	f.sched.OnSwitch(func(_ string, _, to domain.StrategyKind, _ domain.Regime) {
		hooked = append(hooked, to)
	})

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, ok := f.sched.State("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.StrategyScalping, st.CurrentStrategy)
	assert.Equal(t, domain.RegimeTrendingUp, st.CurrentRegime)
	assert.Equal(t, 1, st.SwitchCount)
	assert.False(t, st.LastSwitchTime.IsZero())

	starts, stops := f.scalp.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
	assert.Equal(t, []domain.StrategyKind{domain.StrategyScalping}, hooked)

	// Same regime again is a no-op, not a re-switch.
	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	starts, _ = f.scalp.counts()
	assert.Equal(t, 1, starts)
}

func TestCooldownSuppressesSwitch(t *testing.T) {
	f := newFixture(t)

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ := f.sched.State("BTCUSDT")
	require.Equal(t, domain.StrategyScalping, st.CurrentStrategy)

	// The regime flips to ranging, but the hour-long cooldown holds the
	// scalper in place.
	f.ex.set(rangingCandles())
	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyScalping, st.CurrentStrategy)
	starts, _ := f.grid.counts()
	assert.Equal(t, 0, starts)

	// Once the cooldown has aged out the switch goes through.
	f.sched.mu.Lock()
	f.sched.states["BTCUSDT"].LastSwitchTime = time.Now().Add(-2 * time.Hour)
	f.sched.mu.Unlock()

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyGrid, st.CurrentStrategy)
	_, stops := f.scalp.counts()
	assert.Equal(t, 1, stops, "old strategy must stop before the new one starts")
}

func TestPerformanceFloorBenchesImmediately(t *testing.T) {
	f := newFixture(t)

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ := f.sched.State("BTCUSDT")
	require.Equal(t, domain.StrategyScalping, st.CurrentStrategy)

	// The regime still wants the scalper, so a score through the floor
	// benches it despite the fresh switch cooldown.
	f.scorer.score = -100
	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyStandby, st.CurrentStrategy)
	assert.Equal(t, -100.0, st.PerformanceScore)
	_, stops := f.scalp.counts()
	assert.Equal(t, 1, stops)

	// While benched, a favorable regime must not restart anything.
	f.scorer.score = 0
	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyStandby, st.CurrentStrategy)
}

func TestPerformanceFloorUnlocksRegimeSwitch(t *testing.T) {
	f := newFixture(t)

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ := f.sched.State("BTCUSDT")
	require.Equal(t, domain.StrategyScalping, st.CurrentStrategy)

	// The regime flips to ranging while the scalper bleeds. The floor
	// bypasses the fresh cooldown and the switch to grid goes through
	// instead of benching.
	f.ex.set(rangingCandles())
	f.scorer.score = -100
	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyGrid, st.CurrentStrategy)
	assert.Equal(t, -100.0, st.PerformanceScore)
	_, stops := f.scalp.counts()
	assert.Equal(t, 1, stops)
	starts, _ := f.grid.counts()
	assert.Equal(t, 1, starts)

	// No bench was recorded, so a later favorable reading keeps grid
	// running rather than forcing standby.
	f.scorer.score = 0
	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyGrid, st.CurrentStrategy)
}

func TestBenchExpires(t *testing.T) {
	f := newFixture(t)

	f.sched.mu.Lock()
	f.sched.states["BTCUSDT"].benchedUntil = time.Now().Add(-time.Minute)
	f.sched.mu.Unlock()

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, _ := f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyScalping, st.CurrentStrategy)
	starts, _ := f.scalp.counts()
	assert.Equal(t, 1, starts)
}

func TestStartFailureLandsStandby(t *testing.T) {
	f := newFixture(t)
	f.scalp.startErr = assert.AnError

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, _ := f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyStandby, st.CurrentStrategy)
	assert.Equal(t, 1, st.SwitchCount, "a failed switch still commits state")
}

func TestStopFailureLandsStandby(t *testing.T) {
	f := newFixture(t)

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")
	st, _ := f.sched.State("BTCUSDT")
	require.Equal(t, domain.StrategyScalping, st.CurrentStrategy)

	f.scalp.stopErr = assert.AnError
	f.ex.set(rangingCandles())
	f.sched.mu.Lock()
	f.sched.states["BTCUSDT"].LastSwitchTime = time.Now().Add(-2 * time.Hour)
	f.sched.mu.Unlock()

	f.sched.evaluateSymbol(context.Background(), "BTCUSDT")

	st, _ = f.sched.State("BTCUSDT")
	assert.Equal(t, domain.StrategyStandby, st.CurrentStrategy)
	starts, _ := f.grid.counts()
	assert.Equal(t, 0, starts, "the replacement must not start after a failed stop")
}
