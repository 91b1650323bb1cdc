package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated or
// normalized; the caller should invoke Config.Normalize and Config.Validate
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Trading ──
	setStringSlice(&cfg.Trading.Symbols, "TRADEBOT_TRADING_SYMBOLS")
	setFloat64(&cfg.Trading.InitialBalance, "TRADEBOT_TRADING_INITIAL_BALANCE")
	setFloat64(&cfg.Trading.Leverage, "TRADEBOT_TRADING_LEVERAGE")
	setFloat64(&cfg.Trading.StakeFraction, "TRADEBOT_TRADING_STAKE_FRACTION")
	setInt(&cfg.Trading.MaxPositions, "TRADEBOT_TRADING_MAX_POSITIONS")
	setInt(&cfg.Trading.MaxPositionsPerSymbol, "TRADEBOT_TRADING_MAX_POSITIONS_PER_SYMBOL")
	setFloat64(&cfg.Trading.MaxAllocationFraction, "TRADEBOT_TRADING_MAX_ALLOCATION_FRACTION")
	setFloat64(&cfg.Trading.FeeRate, "TRADEBOT_TRADING_FEE_RATE")

	// ── Exit ──
	setFloat64(&cfg.Exit.TargetDollars, "TRADEBOT_EXIT_TARGET_DOLLARS")
	setFloat64(&cfg.Exit.FloorDollars, "TRADEBOT_EXIT_FLOOR_DOLLARS")
	setFloat64(&cfg.Exit.StopLossDollars, "TRADEBOT_EXIT_STOP_LOSS_DOLLARS")
	setFloat64(&cfg.Exit.FailsafeDollars, "TRADEBOT_EXIT_FAILSAFE_DOLLARS")
	setBool(&cfg.Exit.GrossThresholds, "TRADEBOT_EXIT_GROSS_THRESHOLDS")

	// ── Monitor ──
	setDuration(&cfg.Monitor.BaseInterval, "TRADEBOT_MONITOR_BASE_INTERVAL")
	setDuration(&cfg.Monitor.MinInterval, "TRADEBOT_MONITOR_MIN_INTERVAL")
	setDuration(&cfg.Monitor.MaxInterval, "TRADEBOT_MONITOR_MAX_INTERVAL")
	setInt(&cfg.Monitor.FastThreshold, "TRADEBOT_MONITOR_FAST_THRESHOLD")
	setInt(&cfg.Monitor.MaxConsecutiveErrors, "TRADEBOT_MONITOR_MAX_CONSECUTIVE_ERRORS")

	// ── Regime ──
	setInt(&cfg.Regime.BufferSize, "TRADEBOT_REGIME_BUFFER_SIZE")
	setInt(&cfg.Regime.CandleWindow, "TRADEBOT_REGIME_CANDLE_WINDOW")
	setDuration(&cfg.Regime.EvalInterval, "TRADEBOT_REGIME_EVAL_INTERVAL")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.SwitchCooldown, "TRADEBOT_SCHEDULER_SWITCH_COOLDOWN")
	setDuration(&cfg.Scheduler.ForcedTimeout, "TRADEBOT_SCHEDULER_FORCED_TIMEOUT")
	setFloat64(&cfg.Scheduler.PerformanceFloor, "TRADEBOT_SCHEDULER_PERFORMANCE_FLOOR")

	// ── Grid ──
	setInt(&cfg.Grid.Levels, "TRADEBOT_GRID_LEVELS")
	setFloat64(&cfg.Grid.SpacingATRMul, "TRADEBOT_GRID_SPACING_ATR_MULT")
	setFloat64(&cfg.Grid.BreakoutPct, "TRADEBOT_GRID_BREAKOUT_PCT")

	// ── Market ──
	setDuration(&cfg.Market.PriceTTL, "TRADEBOT_MARKET_PRICE_TTL")
	setInt(&cfg.Market.MaxRetries, "TRADEBOT_MARKET_MAX_RETRIES")
	setStr(&cfg.Market.WSURL, "TRADEBOT_MARKET_WS_URL")
	setInt64(&cfg.Market.SimSeed, "TRADEBOT_MARKET_SIM_SEED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEBOT_REDIS_TLS_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADEBOT_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRADEBOT_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
