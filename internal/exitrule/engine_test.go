package exitrule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// newLong builds the reference position used across these tests: 1000 USD
// stake at 10x on an entry of 50000, so quantity is 0.2 and the round-trip
// fee is 0.80 USD.
func newLong() *domain.Position {
	return &domain.Position{
		ID:          "p1",
		Symbol:      "BTCUSDT",
		Side:        domain.SideLong,
		EntryPrice:  50_000,
		Quantity:    0.2,
		Leverage:    10,
		Stake:       1000,
		FeeRate:     0.0004,
		TargetNet:   10,
		FloorNet:    7,
		StopLossNet: 15,
		FailsafeNet: 25,
		Status:      domain.PositionStatusOpen,
	}
}

func newShort() *domain.Position {
	p := newLong()
	p.Side = domain.SideShort
	return p
}

func TestEvaluateTargetHit(t *testing.T) {
	e := New()
	p := newLong()

	// Net 10 requires gross 10.80, i.e. a 54.00 move on 0.2 qty. That is a
	// 0.108% price move despite the 1% account return, because leverage
	// compresses the required move.
	prices := SolveExitPrices(p)
	assert.InDelta(t, 50_054, prices.Target, 1e-9)

	ev := e.Evaluate(p, prices.Target)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, domain.ExitReasonTargetHit, ev.Exit.Reason)
	assert.InDelta(t, 10, ev.Exit.NetPnL, 1e-9)

	// One tick under the solved price must not trigger.
	ev = e.Evaluate(p, prices.Target-0.01)
	assert.Nil(t, ev.Exit)
}

func TestEvaluateFloorActivationAndViolation(t *testing.T) {
	e := New()
	p := newLong()
	prices := SolveExitPrices(p)

	// Profit reaches the floor threshold: the floor arms but nothing closes.
	ev := e.Evaluate(p, prices.Floor+1)
	require.Nil(t, ev.Exit)
	assert.True(t, ev.FloorActivated)
	assert.Greater(t, ev.HighestProfit, p.FloorNet)

	// Persist the mutations the way the monitor does.
	p.HighestProfit = ev.HighestProfit
	p.FloorActivated = ev.FloorActivated

	// Profit falls back to the floor: inclusive comparison closes the
	// position at floor_violation, locking in roughly the floor dollars.
	ev = e.Evaluate(p, prices.Floor)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, domain.ExitReasonFloorViolation, ev.Exit.Reason)
	assert.InDelta(t, 7, ev.Exit.NetPnL, 1e-9)
}

func TestEvaluateFloorIsSticky(t *testing.T) {
	e := New()
	p := newLong()
	prices := SolveExitPrices(p)

	ev := e.Evaluate(p, prices.Floor+2)
	require.True(t, ev.FloorActivated)
	p.HighestProfit = ev.HighestProfit
	p.FloorActivated = ev.FloorActivated

	// A higher price never un-arms the floor and only raises the mark.
	ev = e.Evaluate(p, prices.Floor+3)
	assert.True(t, ev.FloorActivated)
	assert.GreaterOrEqual(t, ev.HighestProfit, p.HighestProfit)
}

func TestEvaluateHighWaterMarkMonotonic(t *testing.T) {
	e := New()
	p := newLong()

	ev := e.Evaluate(p, 50_020)
	first := ev.HighestProfit
	p.HighestProfit = ev.HighestProfit

	// A retreat in profit must not lower the mark.
	ev = e.Evaluate(p, 50_010)
	assert.Equal(t, first, ev.HighestProfit)
}

func TestEvaluateStopLoss(t *testing.T) {
	e := New()
	p := newLong()
	prices := SolveExitPrices(p)

	ev := e.Evaluate(p, prices.StopLoss)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, domain.ExitReasonStopLoss, ev.Exit.Reason)
	assert.InDelta(t, -15, ev.Exit.NetPnL, 1e-9)
}

func TestEvaluateStopLossSkippedAfterFloor(t *testing.T) {
	e := New()
	p := newLong()
	p.FloorActivated = true
	p.HighestProfit = 8

	// With the floor armed, any retreat through the floor is a floor
	// violation, never a plain stop even at stop-loss depth.
	prices := SolveExitPrices(p)
	ev := e.Evaluate(p, prices.StopLoss)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, domain.ExitReasonFloorViolation, ev.Exit.Reason)
}

func TestEvaluateFailsafeBackstop(t *testing.T) {
	e := New()
	p := newLong()
	// Misordered thresholds: the failsafe must still fire even though the
	// plain stop is unreachable before it.
	p.StopLossNet = 100

	prices := SolveExitPrices(p)
	ev := e.Evaluate(p, prices.Failsafe)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, domain.ExitReasonFailsafe, ev.Exit.Reason)
	assert.InDelta(t, -25, ev.Exit.NetPnL, 1e-9)
}

func TestSolveExitPricesShortSymmetry(t *testing.T) {
	long := newLong()
	short := newShort()

	lp := SolveExitPrices(long)
	sp := SolveExitPrices(short)

	// Short thresholds mirror the long ones around the entry.
	assert.InDelta(t, long.EntryPrice-lp.Target, sp.Target-short.EntryPrice, 1e-9)
	assert.InDelta(t, long.EntryPrice-lp.StopLoss, sp.StopLoss-short.EntryPrice, 1e-9)

	e := New()
	ev := e.Evaluate(short, sp.Target)
	require.NotNil(t, ev.Exit)
	assert.Equal(t, domain.ExitReasonTargetHit, ev.Exit.Reason)
}

func TestStopLossMovePctShrinksWithLeverage(t *testing.T) {
	p := newLong()
	lowLev := StopLossMovePct(p)

	p2 := newLong()
	p2.Leverage = 20
	p2.Quantity = p2.Stake * p2.Leverage / p2.EntryPrice
	highLev := StopLossMovePct(p2)

	assert.Less(t, highLev, lowLev)
}

func TestEvaluateNetAccountsForFees(t *testing.T) {
	e := New()
	p := newLong()

	// At a gross profit exactly equal to the target, fees keep it short of
	// the net threshold.
	price := p.EntryPrice + p.TargetNet/p.Quantity
	ev := e.Evaluate(p, price)
	assert.Nil(t, ev.Exit)
	assert.InDelta(t, p.TargetNet-p.RoundTripFee(), ev.NetPnL, 1e-9)
}
