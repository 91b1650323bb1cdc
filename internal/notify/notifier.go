// Package notify pushes trading alerts to operator channels. The engine
// hooks feed it closed trades, strategy switches, and monitor halts; each is
// tagged with an Event so operators can subscribe to the subset they want via
// the notify.events config list.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Event tags a notification with what happened. Operators filter on these
// values in the notify.events config list.
type Event string

const (
	EventPositionClosed Event = "position_closed"
	EventStrategySwitch Event = "strategy_switch"
	EventMonitorHalted  Event = "monitor_halted"
	EventError          Event = "error"
)

// Sender delivers a formatted alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs and error messages.
	Name() string
}

// Notifier fans alerts out to every configured Sender. Notify drops events
// outside the subscribed set; NotifyAll ignores the subscription entirely.
type Notifier struct {
	senders []Sender
	events  map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. The events list comes
// straight from config; an empty list subscribes to everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	subscribed := make(map[Event]bool, len(events))
	for _, e := range events {
		subscribed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  subscribed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify dispatches to all senders when event is subscribed. With no
// subscriptions configured every event passes.
func (n *Notifier) Notify(ctx context.Context, event Event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event not subscribed, dropped",
			slog.String("event", string(event)),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll dispatches to all senders regardless of subscriptions.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender. One channel failing never blocks the
// others; failures are collected into a single combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
