package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedSource fails a set number of times before serving a price.
type scriptedSource struct {
	mu       sync.Mutex
	name     string
	price    float64
	failures int
	calls    int
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) FetchPrice(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return 0, errors.New("transient failure")
	}
	return s.price, nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestProvider(sources ...Source) *Provider {
	return NewProvider(ProviderConfig{
		TTL:          50 * time.Millisecond,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		MaxTotalWait: 200 * time.Millisecond,
	}, testLogger(), sources...)
}

func TestGetPriceServesFreshCache(t *testing.T) {
	src := &scriptedSource{name: "a", price: 101}
	p := newTestProvider(src)

	p.Push("BTCUSDT", 100, time.Now())
	price, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 0, src.callCount(), "fresh cache must short-circuit the sources")
}

func TestGetPriceRetriesThenSucceeds(t *testing.T) {
	src := &scriptedSource{name: "a", price: 102, failures: 2}
	p := newTestProvider(src)

	price, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 102.0, price)
	assert.Equal(t, 3, src.callCount())
}

func TestGetPriceFallsThroughSources(t *testing.T) {
	dead := &scriptedSource{name: "dead", failures: 1000}
	alive := &scriptedSource{name: "alive", price: 103}
	p := newTestProvider(dead, alive)

	price, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 103.0, price)
}

func TestGetPriceServesStaleOnExhaustion(t *testing.T) {
	dead := &scriptedSource{name: "dead", failures: 1000}
	p := newTestProvider(dead)

	// Seed a tick, then age it past the TTL.
	p.Push("BTCUSDT", 99, time.Now().Add(-time.Second))

	price, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err, "a stale price beats no price")
	assert.Equal(t, 99.0, price)
}

func TestGetPriceFailsWhenNeverSeen(t *testing.T) {
	dead := &scriptedSource{name: "dead", failures: 1000}
	p := newTestProvider(dead)

	_, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestPushKeepsNewestTick(t *testing.T) {
	p := newTestProvider()
	now := time.Now()

	p.Push("BTCUSDT", 100, now)
	// An older out-of-band tick must not overwrite a newer one.
	p.Push("BTCUSDT", 95, now.Add(-time.Second))

	price, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
}

func TestGetPriceRejectsNonPositive(t *testing.T) {
	zero := &scriptedSource{name: "zero", price: 0}
	p := newTestProvider(zero)

	_, err := p.GetPrice(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestSimulatedExchangeDeterminism(t *testing.T) {
	a := NewSimulatedExchange(SimConfig{Seed: 42, StartPrice: map[string]float64{"BTCUSDT": 50_000}})
	b := NewSimulatedExchange(SimConfig{Seed: 42, StartPrice: map[string]float64{"BTCUSDT": 50_000}})

	for i := 0; i < 10; i++ {
		pa, err := a.GetPrice(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		pb, err := b.GetPrice(context.Background(), "BTCUSDT")
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
		assert.Greater(t, pa, 0.0)
	}
}

func TestSimulatedExchangeSeries(t *testing.T) {
	ex := NewSimulatedExchange(SimConfig{Seed: 7, StartPrice: map[string]float64{"BTCUSDT": 50_000}})

	candles, err := ex.GetRecentSeries(context.Background(), "BTCUSDT", 30)
	require.NoError(t, err)
	require.Len(t, candles, 30)
	for _, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Low)
		assert.GreaterOrEqual(t, c.High, c.Close)
		assert.LessOrEqual(t, c.Low, c.Close)
	}

	_, err = ex.GetRecentSeries(context.Background(), "BTCUSDT", 0)
	require.Error(t, err)
}
