package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/cache/redis"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/engine"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/exitrule"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/grid"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/ledger"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/market"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/monitor"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/notify"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/regime"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/risk"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/scheduler"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/server"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/server/handler"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/store/memory"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/store/postgres"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/strategy"
)

// Dependencies bundles everything the application needs to run.
type Dependencies struct {
	Engine   *engine.Engine
	Ledger   *ledger.Ledger
	Notifier *notify.Notifier
}

// Wire constructs the full engine from configuration and returns it together
// with a cleanup function releasing external connections.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Durable trade sink (optional) ---
	var sinks []domain.TradeSink
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		sinks = append(sinks, postgres.NewTradeStore(pgClient.Pool()))
	}

	// --- Market data ---
	exchange := market.NewSimulatedExchange(market.SimConfig{
		Seed:       cfg.Market.SimSeed,
		Volatility: cfg.Market.SimVolatility,
		Drift:      cfg.Market.SimDrift,
	})

	// --- Shared price cache (optional) ---
	// When enabled, the cache is both a read source (ticks published by
	// sibling instances) and a write-through target for fresh prices.
	sources := []market.Source{market.NewExchangeSource(exchange)}
	var shared domain.SharedPriceCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		shared = redis.NewPriceCache(redisClient, cfg.Market.PriceTTL.Duration*10)
		sources = append(sources, market.NewSharedCacheSource(shared, cfg.Market.PriceTTL.Duration*5))
	}

	provider := market.NewProvider(market.ProviderConfig{
		TTL:          cfg.Market.PriceTTL.Duration,
		MaxRetries:   cfg.Market.MaxRetries,
		RetryBackoff: cfg.Market.RetryBackoff.Duration,
		MaxTotalWait: cfg.Market.MaxTotalWait.Duration,
	}, logger, sources...)
	if shared != nil {
		provider.SetSharedCache(shared)
	}

	// --- Core engine ---
	tradeLog := memory.NewTradeStore()
	lg := ledger.New(cfg.Trading.InitialBalance, tradeLog, logger, sinks...)
	rules := exitrule.New()
	sizer := risk.NewSizer(*cfg, lg, logger)

	mon := monitor.New(monitor.Config{
		BaseInterval:         cfg.Monitor.BaseInterval.Duration,
		MinInterval:          cfg.Monitor.MinInterval.Duration,
		MaxInterval:          cfg.Monitor.MaxInterval.Duration,
		FastThreshold:        cfg.Monitor.FastThreshold,
		MaxConsecutiveErrors: cfg.Monitor.MaxConsecutiveErrors,
	}, lg, rules, provider, logger)

	eng := engine.New(lg, sizer, provider, mon, logger)

	// --- Strategies and scheduling ---
	registry := strategy.NewRegistry()
	registry.Register(strategy.NewScalper(
		cfg.Scalp, cfg.Regime.EvalInterval.Duration, exchange, eng, logger,
	))

	rungStake := cfg.Trading.InitialBalance * cfg.Trading.StakeFraction / float64(2*cfg.Grid.Levels)
	registry.Register(grid.NewEngine(
		cfg.Grid, rungStake, cfg.Monitor.BaseInterval.Duration,
		provider, exchange, eng, lg, eng, logger,
	))

	detector := regime.NewDetector(cfg.Regime, exchange, logger)
	scorer := scheduler.NewPnLScorer(tradeLog, cfg.Scheduler.ScoreWindow, logger)
	sched := scheduler.New(
		cfg.Scheduler, cfg.Regime.EvalInterval.Duration, cfg.Trading.Symbols,
		detector, registry, scorer, logger,
	)
	eng.SetScheduler(sched)

	// --- Status API (optional) ---
	if cfg.Server.Enabled {
		status := handler.NewStatusHandler(eng, tradeLog, logger)
		eng.AddRunner(server.New(server.Config{
			Port:   cfg.Server.Port,
			APIKey: cfg.Server.APIKey,
		}, status, logger))
	}

	// --- Live tick feed (optional) ---
	if cfg.Market.WSURL != "" {
		feed := market.NewTickerFeed(cfg.Market.WSURL, cfg.Trading.Symbols, provider.Push, logger)
		eng.AddRunner(feed)
	}

	// --- Notification hooks ---
	mon.OnClose(func(t domain.CompletedTrade) {
		notifier.PositionClosed(context.Background(), t)
	})
	mon.OnHalt(func(err error) {
		notifier.MonitorHalted(context.Background(), err)
	})
	sched.OnSwitch(func(symbol string, from, to domain.StrategyKind, r domain.Regime) {
		notifier.StrategySwitched(context.Background(), symbol, from, to, r)
	})

	return &Dependencies{
		Engine:   eng,
		Ledger:   lg,
		Notifier: notifier,
	}, cleanup, nil
}
