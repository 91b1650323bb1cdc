// Package config defines the top-level configuration for the trading bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADEBOT_* environment variables.
type Config struct {
	Trading   TradingConfig   `toml:"trading"`
	Exit      ExitConfig      `toml:"exit"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Regime    RegimeConfig    `toml:"regime"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Grid      GridConfig      `toml:"grid"`
	Scalp     ScalpConfig     `toml:"scalp"`
	Market    MarketConfig    `toml:"market"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	LogLevel  string          `toml:"log_level"`
}

// TradingConfig holds capital and risk-limit parameters.
type TradingConfig struct {
	Symbols               []string `toml:"symbols"`
	InitialBalance        float64  `toml:"initial_balance"`
	Leverage              float64  `toml:"leverage"`
	StakeFraction         float64  `toml:"stake_fraction"`
	MaxPositions          int      `toml:"max_positions"`
	MaxPositionsPerSymbol int      `toml:"max_positions_per_symbol"`
	MaxAllocationFraction float64  `toml:"max_allocation_fraction"`
	FeeRate               float64  `toml:"fee_rate"`
}

// ExitConfig holds the four dollar-denominated exit thresholds.
//
// When GrossThresholds is true the configured dollar amounts are understood
// as gross (before fees) and are converted to the engine's net-of-fee
// representation exactly once, in Normalize. Everything downstream of config
// loading works with net dollars only.
type ExitConfig struct {
	TargetDollars   float64 `toml:"target_dollars"`
	FloorDollars    float64 `toml:"floor_dollars"`
	StopLossDollars float64 `toml:"stop_loss_dollars"`
	FailsafeDollars float64 `toml:"failsafe_dollars"`
	GrossThresholds bool    `toml:"gross_thresholds"`
}

// MonitorConfig holds the position-monitor cadence and failure policy.
type MonitorConfig struct {
	BaseInterval         duration `toml:"base_interval"`
	MinInterval          duration `toml:"min_interval"`
	MaxInterval          duration `toml:"max_interval"`
	FastThreshold        int      `toml:"fast_threshold"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
}

// RegimeConfig holds regime-classification parameters.
type RegimeConfig struct {
	BufferSize      int      `toml:"buffer_size"`
	CandleWindow    int      `toml:"candle_window"`
	ShortEMA        int      `toml:"short_ema"`
	LongEMA         int      `toml:"long_ema"`
	ATRPeriod       int      `toml:"atr_period"`
	SqueezeWidthPct float64  `toml:"squeeze_width_pct"`
	VolatilityPct   float64  `toml:"volatility_pct"`
	TrendStrength   float64  `toml:"trend_strength"`
	EvalInterval    duration `toml:"eval_interval"`
}

// SchedulerConfig holds strategy-switch hysteresis parameters.
type SchedulerConfig struct {
	SwitchCooldown   duration `toml:"switch_cooldown"`
	ForcedTimeout    duration `toml:"forced_timeout"`
	PerformanceFloor float64  `toml:"performance_floor"`
	ScoreWindow      int      `toml:"score_window"`
}

// GridConfig holds grid-ladder parameters.
type GridConfig struct {
	Levels        int     `toml:"levels"`
	SpacingATRMul float64 `toml:"spacing_atr_mult"`
	MinSpacingPct float64 `toml:"min_spacing_pct"`
	BreakoutPct   float64 `toml:"breakout_pct"`
}

// ScalpConfig holds momentum-scalper parameters. MaxATRPct caps the average
// true range, as a fraction of price, above which the scalper stands aside;
// zero disables the gate.
type ScalpConfig struct {
	FastEMA       int     `toml:"fast_ema"`
	SlowEMA       int     `toml:"slow_ema"`
	MinMomentum   float64 `toml:"min_momentum"`
	MinConfidence float64 `toml:"min_confidence"`
	MaxATRPct     float64 `toml:"max_atr_pct"`
}

// MarketConfig holds price-provider and simulator parameters.
type MarketConfig struct {
	PriceTTL      duration `toml:"price_ttl"`
	MaxRetries    int      `toml:"max_retries"`
	RetryBackoff  duration `toml:"retry_backoff"`
	MaxTotalWait  duration `toml:"max_total_wait"`
	WSURL         string   `toml:"ws_url"`
	SimSeed       int64    `toml:"sim_seed"`
	SimVolatility float64  `toml:"sim_volatility"`
	SimDrift      float64  `toml:"sim_drift"`
}

// PostgresConfig holds optional PostgreSQL connection parameters for the
// durable completed-trade sink.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds optional Redis connection parameters for the shared
// price cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig holds the optional status API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Trading: TradingConfig{
			Symbols:               []string{"BTCUSDT", "ETHUSDT"},
			InitialBalance:        10_000,
			Leverage:              10,
			StakeFraction:         0.10,
			MaxPositions:          10,
			MaxPositionsPerSymbol: 3,
			MaxAllocationFraction: 0.60,
			FeeRate:               0.0004,
		},
		Exit: ExitConfig{
			TargetDollars:   10,
			FloorDollars:    7,
			StopLossDollars: 15,
			FailsafeDollars: 25,
			GrossThresholds: false,
		},
		Monitor: MonitorConfig{
			BaseInterval:         duration{3 * time.Second},
			MinInterval:          duration{1 * time.Second},
			MaxInterval:          duration{10 * time.Second},
			FastThreshold:        5,
			MaxConsecutiveErrors: 5,
		},
		Regime: RegimeConfig{
			BufferSize:      5,
			CandleWindow:    50,
			ShortEMA:        9,
			LongEMA:         21,
			ATRPeriod:       14,
			SqueezeWidthPct: 0.02,
			VolatilityPct:   0.04,
			TrendStrength:   0.6,
			EvalInterval:    duration{30 * time.Second},
		},
		Scheduler: SchedulerConfig{
			SwitchCooldown:   duration{15 * time.Minute},
			ForcedTimeout:    duration{2 * time.Hour},
			PerformanceFloor: -20,
			ScoreWindow:      10,
		},
		Grid: GridConfig{
			Levels:        4,
			SpacingATRMul: 0.5,
			MinSpacingPct: 0.001,
			BreakoutPct:   0.03,
		},
		Scalp: ScalpConfig{
			FastEMA:       5,
			SlowEMA:       13,
			MinMomentum:   0.0015,
			MinConfidence: 0.55,
			MaxATRPct:     0.03,
		},
		Market: MarketConfig{
			PriceTTL:      duration{2 * time.Second},
			MaxRetries:    3,
			RetryBackoff:  duration{200 * time.Millisecond},
			MaxTotalWait:  duration{3 * time.Second},
			SimSeed:       0,
			SimVolatility: 0.0008,
			SimDrift:      0,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tradebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "strategy_switch", "monitor_halted", "error"},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Normalize converts externally-configured values to the engine's internal
// representation. This is the single place where gross (before-fee) dollar
// thresholds become net-of-fee dollars: the expected round-trip fee for a
// typical position (stake_fraction of the initial balance, both sides of the
// trade) is subtracted from profit thresholds and added to loss thresholds.
func (c *Config) Normalize() {
	if !c.Exit.GrossThresholds {
		return
	}
	stake := c.Trading.InitialBalance * c.Trading.StakeFraction
	fee := stake * c.Trading.FeeRate * 2

	c.Exit.TargetDollars -= fee
	c.Exit.FloorDollars -= fee
	c.Exit.StopLossDollars += fee
	c.Exit.FailsafeDollars += fee
	c.Exit.GrossThresholds = false
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Trading
	if len(c.Trading.Symbols) == 0 {
		errs = append(errs, "trading: at least one symbol is required")
	}
	if c.Trading.InitialBalance <= 0 {
		errs = append(errs, "trading: initial_balance must be > 0")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		errs = append(errs, fmt.Sprintf("trading: leverage must be 1-125, got %g", c.Trading.Leverage))
	}
	if c.Trading.StakeFraction <= 0 || c.Trading.StakeFraction > 1 {
		errs = append(errs, "trading: stake_fraction must be in (0, 1]")
	}
	if c.Trading.MaxPositions < 1 {
		errs = append(errs, "trading: max_positions must be >= 1")
	}
	if c.Trading.MaxPositionsPerSymbol < 1 {
		errs = append(errs, "trading: max_positions_per_symbol must be >= 1")
	}
	if c.Trading.MaxAllocationFraction <= 0 || c.Trading.MaxAllocationFraction > 1 {
		errs = append(errs, "trading: max_allocation_fraction must be in (0, 1]")
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate > 0.01 {
		errs = append(errs, fmt.Sprintf("trading: fee_rate must be 0-0.01, got %g", c.Trading.FeeRate))
	}

	// Exit — thresholds must be ordered so every tier is reachable.
	if c.Exit.TargetDollars <= 0 {
		errs = append(errs, "exit: target_dollars must be > 0")
	}
	if c.Exit.FloorDollars <= 0 || c.Exit.FloorDollars >= c.Exit.TargetDollars {
		errs = append(errs, "exit: floor_dollars must be > 0 and < target_dollars")
	}
	if c.Exit.StopLossDollars <= 0 {
		errs = append(errs, "exit: stop_loss_dollars must be > 0")
	}
	if c.Exit.FailsafeDollars <= c.Exit.StopLossDollars {
		errs = append(errs, "exit: failsafe_dollars must be > stop_loss_dollars")
	}

	// Monitor
	if c.Monitor.MinInterval.Duration <= 0 {
		errs = append(errs, "monitor: min_interval must be > 0")
	}
	if c.Monitor.MaxInterval.Duration < c.Monitor.MinInterval.Duration {
		errs = append(errs, "monitor: max_interval must be >= min_interval")
	}
	if c.Monitor.BaseInterval.Duration < c.Monitor.MinInterval.Duration ||
		c.Monitor.BaseInterval.Duration > c.Monitor.MaxInterval.Duration {
		errs = append(errs, "monitor: base_interval must lie within [min_interval, max_interval]")
	}
	if c.Monitor.MaxConsecutiveErrors < 1 {
		errs = append(errs, "monitor: max_consecutive_errors must be >= 1")
	}

	// Regime
	if c.Regime.BufferSize < 1 {
		errs = append(errs, "regime: buffer_size must be >= 1")
	}
	if c.Regime.ShortEMA < 2 || c.Regime.LongEMA <= c.Regime.ShortEMA {
		errs = append(errs, "regime: require 2 <= short_ema < long_ema")
	}
	if c.Regime.CandleWindow <= c.Regime.LongEMA {
		errs = append(errs, "regime: candle_window must exceed long_ema")
	}
	if c.Regime.ATRPeriod < 2 {
		errs = append(errs, "regime: atr_period must be >= 2")
	}

	// Scheduler
	if c.Scheduler.SwitchCooldown.Duration <= 0 {
		errs = append(errs, "scheduler: switch_cooldown must be > 0")
	}
	if c.Scheduler.ForcedTimeout.Duration <= c.Scheduler.SwitchCooldown.Duration {
		errs = append(errs, "scheduler: forced_timeout must be > switch_cooldown")
	}
	if c.Scheduler.ScoreWindow < 1 {
		errs = append(errs, "scheduler: score_window must be >= 1")
	}

	// Grid
	if c.Grid.Levels < 1 {
		errs = append(errs, "grid: levels must be >= 1")
	}
	if c.Grid.SpacingATRMul <= 0 {
		errs = append(errs, "grid: spacing_atr_mult must be > 0")
	}
	if c.Grid.BreakoutPct <= 0 || c.Grid.BreakoutPct > 0.5 {
		errs = append(errs, "grid: breakout_pct must be in (0, 0.5]")
	}

	// Market
	if c.Market.PriceTTL.Duration <= 0 {
		errs = append(errs, "market: price_ttl must be > 0")
	}
	if c.Market.MaxRetries < 0 {
		errs = append(errs, "market: max_retries must be >= 0")
	}
	if c.Market.MaxTotalWait.Duration <= 0 {
		errs = append(errs, "market: max_total_wait must be > 0")
	}

	// Postgres — only checked when the durable sink is enabled.
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
