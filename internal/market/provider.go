// Package market provides price access for the engine: a cached multi-source
// price provider, a simulated exchange for paper trading, and a websocket
// ticker feed that pushes live ticks into the provider.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// Source is one ordered price origin the provider can query on a cache miss.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// ProviderConfig tunes caching and retry behavior.
type ProviderConfig struct {
	TTL          time.Duration // freshness window for cached prices
	MaxRetries   int           // retries per source on a miss
	RetryBackoff time.Duration // initial backoff, doubled per attempt
	MaxTotalWait time.Duration // hard bound on one GetPrice call
}

type cachedPrice struct {
	price float64
	ts    time.Time
}

// Provider answers price lookups from a short-TTL cache, falling through an
// ordered source list with bounded retries and exponential backoff. When all
// sources are exhausted it serves the last cached value even if stale, and
// only fails when it has never seen a price for the symbol.
type Provider struct {
	cfg     ProviderConfig
	sources []Source
	shared  domain.SharedPriceCache // optional write-through

	mu    sync.RWMutex
	cache map[string]cachedPrice

	logger *slog.Logger
}

// NewProvider creates a Provider querying the given sources in order.
func NewProvider(cfg ProviderConfig, logger *slog.Logger, sources ...Source) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	if cfg.MaxTotalWait <= 0 {
		cfg.MaxTotalWait = 3 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Provider{
		cfg:     cfg,
		sources: sources,
		cache:   make(map[string]cachedPrice),
		logger:  logger.With(slog.String("component", "price_provider")),
	}
}

// SetSharedCache enables write-through of fresh ticks to an external cache
// shared across engine instances.
func (p *Provider) SetSharedCache(c domain.SharedPriceCache) {
	p.shared = c
}

// Push injects a price observed out-of-band (e.g. from the websocket feed)
// into the cache.
func (p *Provider) Push(symbol string, price float64, ts time.Time) {
	p.mu.Lock()
	cur, ok := p.cache[symbol]
	if !ok || ts.After(cur.ts) {
		p.cache[symbol] = cachedPrice{price: price, ts: ts}
	}
	p.mu.Unlock()
}

// GetPrice returns the current price for symbol. The total wait is bounded by
// MaxTotalWait regardless of source count and retry budget.
func (p *Provider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	now := time.Now()

	p.mu.RLock()
	cached, haveCached := p.cache[symbol]
	p.mu.RUnlock()

	if haveCached && now.Sub(cached.ts) <= p.cfg.TTL {
		return cached.price, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.MaxTotalWait)
	defer cancel()

	price, err := p.fetch(ctx, symbol)
	if err == nil {
		ts := time.Now()
		p.Push(symbol, price, ts)
		if p.shared != nil {
			if serr := p.shared.SetPrice(ctx, symbol, price, ts); serr != nil {
				p.logger.Debug("shared cache write failed",
					slog.String("symbol", symbol),
					slog.String("error", serr.Error()),
				)
			}
		}
		return price, nil
	}

	// All sources failed: a stale price beats no price.
	if haveCached {
		p.logger.Warn("serving stale price after source exhaustion",
			slog.String("symbol", symbol),
			slog.Duration("age", now.Sub(cached.ts)),
		)
		return cached.price, nil
	}
	return 0, fmt.Errorf("market: get price %s: %w", symbol, errors.Join(domain.ErrPriceUnavailable, err))
}

// fetch walks the ordered source list with per-source retries and
// exponential backoff.
func (p *Provider) fetch(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	for _, src := range p.sources {
		backoff := p.cfg.RetryBackoff
		for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			price, err := src.FetchPrice(ctx, symbol)
			if err == nil && price > 0 {
				return price, nil
			}
			if err == nil {
				err = fmt.Errorf("source %s returned non-positive price", src.Name())
			}
			lastErr = err

			if attempt < p.cfg.MaxRetries {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
			}
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no price sources configured")
	}
	return 0, lastErr
}

// ExchangeSource adapts a domain.ExchangeClient to the Source interface.
type ExchangeSource struct {
	client domain.ExchangeClient
}

// NewExchangeSource wraps the given exchange client as a price source.
func NewExchangeSource(client domain.ExchangeClient) *ExchangeSource {
	return &ExchangeSource{client: client}
}

// Name identifies the source in logs.
func (s *ExchangeSource) Name() string { return "exchange" }

// FetchPrice queries the exchange client.
func (s *ExchangeSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	return s.client.GetPrice(ctx, symbol)
}

// SharedCacheSource adapts a domain.SharedPriceCache to the Source interface
// so multiple engine instances can consume each other's fresh ticks. Entries
// older than maxAge are treated as misses.
type SharedCacheSource struct {
	cache  domain.SharedPriceCache
	maxAge time.Duration
}

// NewSharedCacheSource wraps the given shared cache as a price source.
func NewSharedCacheSource(cache domain.SharedPriceCache, maxAge time.Duration) *SharedCacheSource {
	return &SharedCacheSource{cache: cache, maxAge: maxAge}
}

// Name identifies the source in logs.
func (s *SharedCacheSource) Name() string { return "shared_cache" }

// FetchPrice reads the shared cache, rejecting entries past maxAge.
func (s *SharedCacheSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	price, ts, err := s.cache.GetPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if s.maxAge > 0 && time.Since(ts) > s.maxAge {
		return 0, fmt.Errorf("shared cache entry for %s is stale: %w", symbol, domain.ErrPriceUnavailable)
	}
	return price, nil
}
