package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestNormalizeConvertsGrossThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Exit.GrossThresholds = true

	// Typical stake is 10% of 10000 at 0.04bps per side: 0.80 round trip.
	cfg.Normalize()

	assert.InDelta(t, 9.20, cfg.Exit.TargetDollars, 1e-9)
	assert.InDelta(t, 6.20, cfg.Exit.FloorDollars, 1e-9)
	assert.InDelta(t, 15.80, cfg.Exit.StopLossDollars, 1e-9)
	assert.InDelta(t, 25.80, cfg.Exit.FailsafeDollars, 1e-9)
	assert.False(t, cfg.Exit.GrossThresholds)

	// Normalize must be idempotent.
	cfg.Normalize()
	assert.InDelta(t, 9.20, cfg.Exit.TargetDollars, 1e-9)
}

func TestNormalizeNoOpForNetThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Normalize()
	assert.InDelta(t, 10, cfg.Exit.TargetDollars, 1e-9)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.Leverage = 200
	cfg.Exit.FloorDollars = 50 // above target
	cfg.LogLevel = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "leverage")
	assert.Contains(t, msg, "floor_dollars")
	assert.Contains(t, msg, "log_level")
}

func TestValidateExitOrdering(t *testing.T) {
	cfg := Defaults()
	cfg.Exit.FailsafeDollars = cfg.Exit.StopLossDollars

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failsafe_dollars must be > stop_loss_dollars")
}

func TestValidateMonitorIntervals(t *testing.T) {
	cfg := Defaults()
	cfg.Monitor.BaseInterval.Duration = 30 * time.Second // above max

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_interval")
}

func TestValidateConditionalSections(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Enabled = true
	cfg.Postgres.Host = ""
	require.Error(t, cfg.Validate())

	// A DSN stands in for the discrete fields.
	cfg.Postgres.DSN = "postgres://user:pass@db:5432/tradebot"
	require.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Server.Enabled = true
	cfg.Server.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestLoadMergesTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(`
log_level = "debug"

[trading]
initial_balance = 25000.0
symbols = ["SOLUSDT"]

[exit]
target_dollars = 12.0

[monitor]
base_interval = "2s"

[scheduler]
switch_cooldown = "5m"
forced_timeout = "1h"
`)), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, 25_000.0, cfg.Trading.InitialBalance)
	assert.Equal(t, 12.0, cfg.Exit.TargetDollars)
	assert.Equal(t, 2*time.Second, cfg.Monitor.BaseInterval.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.SwitchCooldown.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10.0, cfg.Trading.Leverage)
	assert.Equal(t, 7.0, cfg.Exit.FloorDollars)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Trading.InitialBalance, cfg.Trading.InitialBalance)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADEBOT_TRADING_LEVERAGE", "20")
	t.Setenv("TRADEBOT_EXIT_TARGET_DOLLARS", "18.5")
	t.Setenv("TRADEBOT_MONITOR_BASE_INTERVAL", "7s")
	t.Setenv("TRADEBOT_TRADING_SYMBOLS", "BTCUSDT, ETHUSDT ,SOLUSDT")
	t.Setenv("TRADEBOT_SERVER_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20.0, cfg.Trading.Leverage)
	assert.Equal(t, 18.5, cfg.Exit.TargetDollars)
	assert.Equal(t, 7*time.Second, cfg.Monitor.BaseInterval.Duration)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Trading.Symbols)
	assert.True(t, cfg.Server.Enabled)
}

func TestDurationTextRoundTrip(t *testing.T) {
	d := duration{90 * time.Second}
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	var parsed duration
	require.NoError(t, parsed.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, parsed.Duration)

	require.Error(t, parsed.UnmarshalText([]byte("not-a-duration")))
}
