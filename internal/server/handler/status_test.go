package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubEngine is a fixed StatusSource.
type stubEngine struct {
	status     domain.AccountStatus
	positions  []domain.Position
	strategies []domain.StrategyState
}

func (s *stubEngine) GetAccountStatus() domain.AccountStatus    { return s.status }
func (s *stubEngine) GetOpenPositions() []domain.Position       { return s.positions }
func (s *stubEngine) GetStrategyStatus() []domain.StrategyState { return s.strategies }

func TestHealth(t *testing.T) {
	h := NewStatusHandler(&stubEngine{}, memory.NewTradeStore(), testLogger())

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestAccountReportsHaltedMonitor(t *testing.T) {
	eng := &stubEngine{status: domain.AccountStatus{MonitorRunning: true}}
	h := NewStatusHandler(eng, memory.NewTradeStore(), testLogger())

	rec := httptest.NewRecorder()
	h.Account(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	eng.status.MonitorRunning = false
	eng.status.MonitorError = "halted"
	rec = httptest.NewRecorder()
	h.Account(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTradesFiltersAndLimits(t *testing.T) {
	log := memory.NewTradeStore()
	require.NoError(t, log.Append(context.Background(), domain.CompletedTrade{ID: "a", Symbol: "BTCUSDT", NetPnL: 5}))
	require.NoError(t, log.Append(context.Background(), domain.CompletedTrade{ID: "b", Symbol: "ETHUSDT", NetPnL: -2}))
	h := NewStatusHandler(&stubEngine{}, log, testLogger())

	rec := httptest.NewRecorder()
	h.Trades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?symbol=ETHUSDT", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Trades []domain.CompletedTrade `json:"trades"`
		Total  int64                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trades, 1)
	assert.Equal(t, "b", body.Trades[0].ID)
	assert.EqualValues(t, 2, body.Total)
}

func TestParseLimitBounds(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/trades?limit=9999", nil)
	assert.Equal(t, 500, parseLimit(r, 50, 500))

	r = httptest.NewRequest(http.MethodGet, "/api/trades?limit=bogus", nil)
	assert.Equal(t, 50, parseLimit(r, 50, 500))

	r = httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	assert.Equal(t, 50, parseLimit(r, 50, 500))
}
