package regime

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegimeConfig() config.RegimeConfig {
	return config.RegimeConfig{
		BufferSize:      5,
		CandleWindow:    50,
		ShortEMA:        9,
		LongEMA:         21,
		ATRPeriod:       14,
		SqueezeWidthPct: 0.02,
		VolatilityPct:   0.04,
		TrendStrength:   0.6,
	}
}

// genCandles synthesizes n candles whose close follows step(i), with a small
// fixed high/low envelope.
func genCandles(n int, rangePct float64, step func(i int) float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		c := step(i)
		out[i] = domain.Candle{
			OpenTime: time.Now().Add(-time.Duration(n-i) * time.Minute),
			Open:     c,
			High:     c * (1 + rangePct),
			Low:      c * (1 - rangePct),
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

func TestClassifyTrendingUp(t *testing.T) {
	c := NewClassifier(testRegimeConfig())
	// Steady 0.4% climb per candle with tight ranges: short EMA pulls well
	// above the long one relative to ATR.
	candles := genCandles(50, 0.001, func(i int) float64 {
		return 100 * math.Pow(1.004, float64(i))
	})

	r, err := c.Classify(candles)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeTrendingUp, r)
}

func TestClassifyTrendingDown(t *testing.T) {
	c := NewClassifier(testRegimeConfig())
	candles := genCandles(50, 0.001, func(i int) float64 {
		return 100 * math.Pow(0.996, float64(i))
	})

	r, err := c.Classify(candles)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeTrendingDown, r)
}

func TestClassifyVolatile(t *testing.T) {
	c := NewClassifier(testRegimeConfig())
	// Flat closes but violent 6% intrabar ranges push ATR over the
	// volatility threshold.
	candles := genCandles(50, 0.06, func(int) float64 { return 100 })

	r, err := c.Classify(candles)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeVolatile, r)
}

func TestClassifyRanging(t *testing.T) {
	c := NewClassifier(testRegimeConfig())
	// Narrow oscillation around 100.
	candles := genCandles(50, 0.003, func(i int) float64 {
		return 100 + 0.2*math.Sin(float64(i)/3)
	})

	r, err := c.Classify(candles)
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeRanging, r)
}

func TestClassifyInsufficientData(t *testing.T) {
	c := NewClassifier(testRegimeConfig())
	candles := genCandles(10, 0.002, func(int) float64 { return 100 })

	r, err := c.Classify(candles)
	require.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.Equal(t, domain.RegimeUnknown, r)
}

func TestBufferHysteresis(t *testing.T) {
	b := newBuffer(5)

	for i := 0; i < 5; i++ {
		b.push(domain.RegimeRanging)
	}
	assert.Equal(t, domain.RegimeRanging, b.effective)

	// Four contrary readings in a row are still not enough.
	for i := 0; i < 4; i++ {
		assert.Equal(t, domain.RegimeRanging, b.push(domain.RegimeTrendingUp))
	}

	// The fifth consecutive agreeing reading fills the buffer and flips it.
	assert.Equal(t, domain.RegimeTrendingUp, b.push(domain.RegimeTrendingUp))
}

func TestBufferContraryRunResetsOnInterruption(t *testing.T) {
	b := newBuffer(5)
	for i := 0; i < 5; i++ {
		b.push(domain.RegimeTrendingUp)
	}
	require.Equal(t, domain.RegimeTrendingUp, b.effective)

	// Four RANGING readings broken by one TRENDING_UP never flip the
	// effective regime; the contrary run must be uninterrupted.
	for i := 0; i < 4; i++ {
		b.push(domain.RegimeRanging)
	}
	assert.Equal(t, domain.RegimeTrendingUp, b.push(domain.RegimeTrendingUp))
	assert.Equal(t, domain.RegimeTrendingUp, b.effective)

	// A clean run of five commits the change.
	for i := 0; i < 4; i++ {
		assert.Equal(t, domain.RegimeTrendingUp, b.push(domain.RegimeRanging))
	}
	assert.Equal(t, domain.RegimeRanging, b.push(domain.RegimeRanging))
}

func TestBufferColdStart(t *testing.T) {
	b := newBuffer(5)
	assert.Equal(t, domain.RegimeUnknown, b.effective)

	// The effective regime stays UNKNOWN until the buffer fills.
	for i := 0; i < 4; i++ {
		assert.Equal(t, domain.RegimeUnknown, b.push(domain.RegimeRanging))
	}
	assert.Equal(t, domain.RegimeRanging, b.push(domain.RegimeRanging))
}

// scriptedExchange returns a fixed candle series.
type scriptedExchange struct {
	candles []domain.Candle
}

func (s *scriptedExchange) GetPrice(context.Context, string) (float64, error) {
	return s.candles[len(s.candles)-1].Close, nil
}

func (s *scriptedExchange) GetRecentSeries(_ context.Context, _ string, window int) ([]domain.Candle, error) {
	if len(s.candles) > window {
		return s.candles[len(s.candles)-window:], nil
	}
	return s.candles, nil
}

func TestDetectorEvaluateSmoothsReadings(t *testing.T) {
	cfg := testRegimeConfig()
	cfg.BufferSize = 3
	ex := &scriptedExchange{candles: genCandles(50, 0.003, func(i int) float64 {
		return 100 + 0.2*math.Sin(float64(i)/3)
	})}
	d := NewDetector(cfg, ex, testLogger())

	// Two agreeing readings are absorbed without effect; the third fills
	// the 3-slot buffer and commits the regime.
	_, err := d.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	r, err := d.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeUnknown, r)

	r, err = d.Evaluate(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeRanging, r)
	assert.Equal(t, domain.RegimeRanging, d.Current("BTCUSDT"))
}
