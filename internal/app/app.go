// Package app provides the top-level application lifecycle for the trading
// bot: it wires the engine from configuration, runs it until the context is
// cancelled, and flattens the book on the way down.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the engine, starts it, and blocks until the context is
// cancelled. On the way down every open position is force-closed so the run
// ends flat, then the engine loops and external connections are torn down.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting trading bot",
		slog.Any("symbols", a.cfg.Trading.Symbols),
		slog.Float64("initial_balance", a.cfg.Trading.InitialBalance),
		slog.Float64("leverage", a.cfg.Trading.Leverage),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := deps.Engine.Start(ctx); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("shutdown requested, flattening positions")

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	deps.Engine.CloseAll(closeCtx)

	if err := deps.Engine.Stop(); err != nil {
		a.logger.Warn("engine stop reported error", slog.String("error", err.Error()))
	}

	acc := deps.Ledger.Account()
	a.logger.Info("run complete",
		slog.Float64("final_balance", acc.Balance),
		slog.Float64("realized_pnl", acc.RealizedPnL),
		slog.Int("trades", acc.TotalTrades),
		slog.Int("wins", acc.WinningTrades),
		slog.Int("losses", acc.LosingTrades),
		slog.Float64("max_drawdown", acc.MaxDrawdown),
	)
	return ctx.Err()
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
