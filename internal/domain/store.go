package domain

import (
	"context"
	"time"
)

// ExchangeClient is the market-data contract the engine consumes. Errors are
// expected (networks fail); implementations must be safe for concurrent use
// and must never panic callers.
type ExchangeClient interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetRecentSeries(ctx context.Context, symbol string, window int) ([]Candle, error)
}

// TradeSink is an append-only destination for completed trades. The engine
// works entirely in memory when no durable sink is configured.
type TradeSink interface {
	Append(ctx context.Context, trade CompletedTrade) error
}

// TradeLog extends TradeSink with read access, for status queries and the
// scheduler's performance scoring.
type TradeLog interface {
	TradeSink
	ListRecent(ctx context.Context, symbol string, limit int) ([]CompletedTrade, error)
	Count(ctx context.Context) (int64, error)
}

// SharedPriceCache lets multiple engine instances share fresh ticks through
// an external cache. It is an optional second-level source for the price
// provider.
type SharedPriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// Scorer ranks how well a strategy has been performing on a symbol. The
// default implementation is deterministic (rolling realized PnL); model-based
// scoring plugs in behind this interface.
type Scorer interface {
	Score(ctx context.Context, symbol string, strategy StrategyKind) float64
}
