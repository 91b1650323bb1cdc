package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// SimConfig tunes the simulated exchange.
type SimConfig struct {
	Seed       int64              // 0 means time-based
	Volatility float64            // per-step stddev of log returns
	Drift      float64            // per-step mean of log returns
	StartPrice map[string]float64 // initial price per symbol
}

// SimulatedExchange is a deterministic-seedable random-walk price source that
// implements domain.ExchangeClient. It lets the whole engine run as a paper
// trader with no network access, and gives tests a controllable market.
type SimulatedExchange struct {
	cfg SimConfig

	mu      sync.Mutex
	rng     *rand.Rand
	prices  map[string]float64
	candles map[string][]domain.Candle
}

// NewSimulatedExchange creates a simulator. Unknown symbols start at a
// default price of 100.
func NewSimulatedExchange(cfg SimConfig) *SimulatedExchange {
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.0008
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prices := make(map[string]float64, len(cfg.StartPrice))
	for sym, p := range cfg.StartPrice {
		prices[sym] = p
	}
	return &SimulatedExchange{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		prices:  prices,
		candles: make(map[string][]domain.Candle),
	}
}

// SetPrice pins the current price for a symbol. Intended for tests and for
// seeding known starting points.
func (s *SimulatedExchange) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// GetPrice advances the random walk one step and returns the new price.
func (s *SimulatedExchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step(symbol), nil
}

// GetRecentSeries returns the last window candles for the symbol, generating
// new ones from the walk as needed.
func (s *SimulatedExchange) GetRecentSeries(_ context.Context, symbol string, window int) ([]domain.Candle, error) {
	if window <= 0 {
		return nil, fmt.Errorf("sim: window must be positive, got %d", window)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.candles[symbol]
	now := time.Now().UTC()
	for len(series) < window {
		open := s.price(symbol)
		close := s.step(symbol)
		high := math.Max(open, close) * (1 + s.rng.Float64()*s.cfg.Volatility)
		low := math.Min(open, close) * (1 - s.rng.Float64()*s.cfg.Volatility)
		series = append(series, domain.Candle{
			OpenTime: now.Add(-time.Duration(window-len(series)) * time.Minute),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   1000 + s.rng.Float64()*500,
		})
	}
	if len(series) > window {
		series = series[len(series)-window:]
	}
	s.candles[symbol] = series

	out := make([]domain.Candle, len(series))
	copy(out, series)
	return out, nil
}

// price returns the current price without advancing the walk. Caller must
// hold s.mu.
func (s *SimulatedExchange) price(symbol string) float64 {
	p, ok := s.prices[symbol]
	if !ok || p <= 0 {
		p = 100
		s.prices[symbol] = p
	}
	return p
}

// step advances the geometric random walk one tick. Caller must hold s.mu.
func (s *SimulatedExchange) step(symbol string) float64 {
	p := s.price(symbol)
	r := s.cfg.Drift + s.cfg.Volatility*s.rng.NormFloat64()
	p *= math.Exp(r)
	s.prices[symbol] = p
	return p
}

var _ domain.ExchangeClient = (*SimulatedExchange)(nil)
