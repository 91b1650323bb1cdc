package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

const timeRounding = time.Second

// PositionClosed formats and dispatches a close notification.
func (n *Notifier) PositionClosed(ctx context.Context, t domain.CompletedTrade) {
	emoji := "🟢"
	if t.NetPnL < 0 {
		emoji = "🔴"
	}
	title := fmt.Sprintf("%s %s %s closed: %+.2f USD", emoji, t.Symbol, t.Side, t.NetPnL)
	msg := fmt.Sprintf(
		"strategy: %s\nreason: %s\nentry: %.4f exit: %.4f\nstake: %.2f lev: %.0fx\nheld: %s",
		t.Strategy, t.ExitReason, t.EntryPrice, t.ExitPrice, t.Stake, t.Leverage,
		t.Duration.Round(timeRounding),
	)
	_ = n.Notify(ctx, EventPositionClosed, title, msg)
}

// StrategySwitched dispatches a strategy-switch notification.
func (n *Notifier) StrategySwitched(ctx context.Context, symbol string, from, to domain.StrategyKind, r domain.Regime) {
	title := fmt.Sprintf("🔀 %s strategy switch", symbol)
	msg := fmt.Sprintf("%s → %s (regime %s)", from, to, r)
	_ = n.Notify(ctx, EventStrategySwitch, title, msg)
}

// MonitorHalted dispatches the one alert that must never be filtered lightly:
// the exit loop is no longer protecting open positions.
func (n *Notifier) MonitorHalted(ctx context.Context, err error) {
	_ = n.Notify(ctx, EventMonitorHalted,
		"🚨 position monitor halted",
		fmt.Sprintf("open positions are no longer being watched: %v", err),
	)
}
