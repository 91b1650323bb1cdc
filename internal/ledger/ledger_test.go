package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, balance float64) (*Ledger, *memory.TradeStore) {
	t.Helper()
	log := memory.NewTradeStore()
	return New(balance, log, testLogger()), log
}

func validPosition() *domain.Position {
	return &domain.Position{
		Symbol:      "BTCUSDT",
		Side:        domain.SideLong,
		EntryPrice:  50_000,
		Quantity:    0.2,
		Leverage:    10,
		Stake:       1000,
		FeeRate:     0.0004,
		Strategy:    domain.StrategyScalping,
		TargetNet:   10,
		FloorNet:    7,
		StopLossNet: 15,
		FailsafeNet: 25,
	}
}

func TestOpenCommitsStake(t *testing.T) {
	lg, _ := newTestLedger(t, 10_000)
	p := validPosition()

	require.NoError(t, lg.Open(context.Background(), p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.PositionStatusOpen, p.Status)
	assert.InDelta(t, 9_000, lg.Balance(), 1e-9)
	assert.InDelta(t, 1_000, lg.AllocatedStake(), 1e-9)

	total, onSymbol := lg.OpenCount("BTCUSDT")
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, onSymbol)
}

func TestOpenRejectsInconsistentStake(t *testing.T) {
	lg, _ := newTestLedger(t, 10_000)
	p := validPosition()
	p.Quantity = 0.5 // implies a 2500 stake, not 1000

	err := lg.Open(context.Background(), p)
	require.Error(t, err)
	assert.InDelta(t, 10_000, lg.Balance(), 1e-9)
}

func TestOpenRejectsInsufficientBalance(t *testing.T) {
	lg, _ := newTestLedger(t, 500)
	p := validPosition()

	err := lg.Open(context.Background(), p)
	require.ErrorIs(t, err, domain.ErrRiskRejected)
}

func TestSettleAppliesPnLAndLogsOnce(t *testing.T) {
	lg, log := newTestLedger(t, 10_000)
	p := validPosition()
	require.NoError(t, lg.Open(context.Background(), p))

	require.True(t, lg.MarkClosing(p.ID))
	trade, err := lg.Settle(context.Background(), p.ID, 50_054, domain.ExitReasonTargetHit)
	require.NoError(t, err)

	// Net = gross 10.80 minus fees 0.80.
	assert.InDelta(t, 10, trade.NetPnL, 1e-9)
	assert.InDelta(t, 10_010, lg.Balance(), 1e-9)
	assert.InDelta(t, 0, lg.AllocatedStake(), 1e-9)

	acc := lg.Account()
	assert.Equal(t, 1, acc.TotalTrades)
	assert.Equal(t, 1, acc.WinningTrades)
	assert.InDelta(t, 10, acc.RealizedPnL, 1e-9)

	n, err := log.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, found := lg.Get(p.ID)
	assert.False(t, found)
	assert.Equal(t, 0, lg.Locks().Len())
}

func TestSettleRequiresClosingStatus(t *testing.T) {
	lg, _ := newTestLedger(t, 10_000)
	p := validPosition()
	require.NoError(t, lg.Open(context.Background(), p))

	// Settling an OPEN position must fail: MarkClosing is the only door.
	_, err := lg.Settle(context.Background(), p.ID, 50_100, domain.ExitReasonTargetHit)
	require.ErrorIs(t, err, domain.ErrPositionNotOpen)

	_, found := lg.Get(p.ID)
	assert.True(t, found)
}

func TestMarkClosingIsExclusive(t *testing.T) {
	lg, _ := newTestLedger(t, 10_000)
	p := validPosition()
	require.NoError(t, lg.Open(context.Background(), p))

	assert.True(t, lg.MarkClosing(p.ID))
	assert.False(t, lg.MarkClosing(p.ID), "second closer must observe CLOSING and back off")
	assert.False(t, lg.MarkClosing("no-such-id"))
}

func TestConcurrentSettleClosesOnce(t *testing.T) {
	lg, log := newTestLedger(t, 100_000)
	p := validPosition()
	require.NoError(t, lg.Open(context.Background(), p))

	var wg sync.WaitGroup
	wins := make(chan struct{}, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !lg.Locks().TryLock(p.ID) {
				return
			}
			defer lg.Locks().Unlock(p.ID)
			if !lg.MarkClosing(p.ID) {
				return
			}
			if _, err := lg.Settle(context.Background(), p.ID, 50_100, domain.ExitReasonTargetHit); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var settled int
	for range wins {
		settled++
	}
	assert.Equal(t, 1, settled)

	n, err := log.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestApplyEvaluationGuardsInvariants(t *testing.T) {
	lg, _ := newTestLedger(t, 10_000)
	p := validPosition()
	require.NoError(t, lg.Open(context.Background(), p))

	lg.ApplyEvaluation(p.ID, 50_040, 8, 7.2, true)
	got, _ := lg.Get(p.ID)
	assert.InDelta(t, 7.2, got.HighestProfit, 1e-9)
	assert.True(t, got.FloorActivated)

	// A lower mark or a false flag must not regress the stored state.
	lg.ApplyEvaluation(p.ID, 50_010, 2, 1.2, false)
	got, _ = lg.Get(p.ID)
	assert.InDelta(t, 7.2, got.HighestProfit, 1e-9)
	assert.True(t, got.FloorActivated)
}

func TestAccountTracksDrawdown(t *testing.T) {
	lg, _ := newTestLedger(t, 10_000)
	p := validPosition()
	require.NoError(t, lg.Open(context.Background(), p))
	require.True(t, lg.MarkClosing(p.ID))

	// Close at a 15-dollar loss.
	_, err := lg.Settle(context.Background(), p.ID, 49_929, domain.ExitReasonStopLoss)
	require.NoError(t, err)

	acc := lg.Account()
	assert.Equal(t, 1, acc.LosingTrades)
	assert.Greater(t, acc.MaxDrawdown, 0.0)
	assert.Less(t, acc.Balance, 10_000.0)
}

func TestKeyedLocks(t *testing.T) {
	locks := NewKeyedLocks()

	require.True(t, locks.TryLock("a"))
	assert.False(t, locks.TryLock("a"))
	locks.Unlock("a")
	assert.True(t, locks.TryLock("a"))
	locks.Unlock("a")

	// Unlocking an evicted key is a no-op, which settlement relies on.
	require.True(t, locks.TryLock("b"))
	locks.Evict("b")
	locks.Unlock("b")
	assert.Equal(t, 1, locks.Len())
}
