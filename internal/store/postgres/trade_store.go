package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// TradeStore implements domain.TradeLog using PostgreSQL. Writes are
// idempotent on trade id so a retried append never duplicates a row.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, position_id, symbol, side, strategy,
	entry_price, exit_price, quantity, leverage, stake,
	net_pnl, fees, exit_reason, entry_time, exit_time, duration_ms`

func scanTradeRows(rows pgx.Rows) ([]domain.CompletedTrade, error) {
	var trades []domain.CompletedTrade
	for rows.Next() {
		var (
			t          domain.CompletedTrade
			durationMs int64
		)
		if err := rows.Scan(
			&t.ID, &t.PositionID, &t.Symbol, &t.Side, &t.Strategy,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Leverage, &t.Stake,
			&t.NetPnL, &t.Fees, &t.ExitReason, &t.EntryTime, &t.ExitTime, &durationMs,
		); err != nil {
			return nil, err
		}
		t.Duration = time.Duration(durationMs) * time.Millisecond
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Append implements domain.TradeSink.
func (s *TradeStore) Append(ctx context.Context, t domain.CompletedTrade) error {
	const query = `
		INSERT INTO completed_trades (
			id, position_id, symbol, side, strategy,
			entry_price, exit_price, quantity, leverage, stake,
			net_pnl, fees, exit_reason, entry_time, exit_time, duration_ms
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PositionID, t.Symbol, string(t.Side), string(t.Strategy),
		t.EntryPrice, t.ExitPrice, t.Quantity, t.Leverage, t.Stake,
		t.NetPnL, t.Fees, string(t.ExitReason), t.EntryTime, t.ExitTime,
		t.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", t.ID, err)
	}
	return nil
}

// ListRecent returns the most recent trades, newest first, optionally
// filtered by symbol.
func (s *TradeStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.CompletedTrade, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + tradeSelectCols + ` FROM completed_trades`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = $1`
		args = append(args, symbol)
	}
	query += fmt.Sprintf(` ORDER BY exit_time DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// Count returns the total number of completed trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM completed_trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}

var _ domain.TradeLog = (*TradeStore)(nil)
