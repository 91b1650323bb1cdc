package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// TickHandler receives each ticker message from the feed.
type TickHandler func(symbol string, price float64, ts time.Time)

// tickerMessage is the wire shape of one streamed tick.
type tickerMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
	TsMs   int64   `json:"ts"`
}

// TickerFeed connects to an exchange websocket ticker stream, subscribes to
// the configured symbols, and invokes the handler for each tick. It
// reconnects with backoff on disconnect and stops when the context is
// cancelled.
type TickerFeed struct {
	wsURL   string
	symbols []string
	onTick  TickHandler
	logger  *slog.Logger
}

// NewTickerFeed creates a feed for the given symbols. The handler typically
// pushes ticks into a Provider.
func NewTickerFeed(wsURL string, symbols []string, onTick TickHandler, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:   wsURL,
		symbols: symbols,
		onTick:  onTick,
		logger:  logger.With(slog.String("component", "ticker_feed")),
	}
}

// Run connects and consumes ticks until ctx is cancelled, reconnecting with
// a fixed pause on failure.
func (f *TickerFeed) Run(ctx context.Context) error {
	if f.wsURL == "" || len(f.symbols) == 0 {
		f.logger.Info("ticker feed not configured, skipping")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ticker feed disconnected, reconnecting",
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *TickerFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("market: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := map[string]any{"op": "subscribe", "channel": "ticker", "symbols": f.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("market: subscribe: %w", err)
	}
	f.logger.Info("ticker feed subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx is cancelled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("market: read: %w", err)
		}
		var msg tickerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug("unparseable ticker message", slog.String("error", err.Error()))
			continue
		}
		if msg.Symbol == "" || msg.Price <= 0 {
			continue
		}
		ts := time.Now().UTC()
		if msg.TsMs > 0 {
			ts = time.UnixMilli(msg.TsMs).UTC()
		}
		f.onTick(msg.Symbol, msg.Price, ts)
	}
}
