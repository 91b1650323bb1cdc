// Package handler implements the status API endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// StatusSource is the slice of the engine the handlers read. All methods
// return snapshots, so handlers never block trading loops.
type StatusSource interface {
	GetAccountStatus() domain.AccountStatus
	GetOpenPositions() []domain.Position
	GetStrategyStatus() []domain.StrategyState
}

// StatusHandler serves the read-only status endpoints.
type StatusHandler struct {
	engine StatusSource
	trades domain.TradeLog
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler over the given engine and trade
// log.
func NewStatusHandler(engine StatusSource, trades domain.TradeLog, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		engine: engine,
		trades: trades,
		logger: logger.With(slog.String("handler", "status")),
	}
}

// Health responds to liveness probes.
// GET /api/health
func (h *StatusHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Account returns the account snapshot and monitor liveness. A halted
// monitor is reported with HTTP 503 so probes catch it.
// GET /api/status
func (h *StatusHandler) Account(w http.ResponseWriter, _ *http.Request) {
	st := h.engine.GetAccountStatus()
	code := http.StatusOK
	if !st.MonitorRunning {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

// Positions returns every open position.
// GET /api/positions
func (h *StatusHandler) Positions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": h.engine.GetOpenPositions(),
	})
}

// Strategies returns the scheduler's per-symbol states.
// GET /api/strategies
func (h *StatusHandler) Strategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": h.engine.GetStrategyStatus(),
	})
}

// Trades returns recent completed trades, newest first.
// GET /api/trades?symbol=BTCUSDT&limit=50
func (h *StatusHandler) Trades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	symbol := r.URL.Query().Get("symbol")

	trades, err := h.trades.ListRecent(r.Context(), symbol, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	count, err := h.trades.Count(r.Context())
	if err != nil {
		count = int64(len(trades))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"total":  count,
	})
}

// parseLimit extracts a bounded limit query parameter.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
