package domain

import "time"

// PositionSide is the direction of a leveraged position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// PositionStatus tracks where a position is in its lifecycle. CLOSING is a
// transient lock state: the monitor marks a position CLOSING before
// settlement so that a second concurrent trigger observes status != OPEN
// and backs off.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "OPEN"
	PositionStatusClosing PositionStatus = "CLOSING"
	PositionStatusClosed  PositionStatus = "CLOSED"
)

// Position represents one open leveraged paper trade.
//
// The four *Net fields are dollar thresholds computed once at open time from
// stake, leverage, and the fee model; they are immutable afterwards.
// HighestProfit is a high-water mark of net profit and never decreases.
// FloorActivated is sticky: once true it stays true for the life of the
// position.
type Position struct {
	ID         string
	Symbol     string
	Side       PositionSide
	EntryPrice float64
	Quantity   float64
	Leverage   float64
	Stake      float64 // margin committed, USD
	FeeRate    float64
	Strategy   StrategyKind
	EntryTime  time.Time

	CurrentPrice   float64
	UnrealizedPnL  float64 // gross, USD
	HighestProfit  float64 // net high-water mark, USD
	FloorActivated bool

	TargetNet   float64 // close at profit >= TargetNet
	FloorNet    float64 // once reached, never give back below this
	StopLossNet float64 // close at loss >= StopLossNet (positive dollars)
	FailsafeNet float64 // unconditional hard stop (positive dollars)

	Status PositionStatus
}

// Notional returns the leveraged notional value at entry.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Quantity
}

// GrossPnL returns the side-aware gross profit at the given price.
func (p *Position) GrossPnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// NetPnL returns gross profit minus modeled entry and exit fees. Fees are
// charged on stake at FeeRate for each side of the round trip.
func (p *Position) NetPnL(price float64) float64 {
	return p.GrossPnL(price) - p.RoundTripFee()
}

// RoundTripFee returns the modeled entry+exit fee for this position.
func (p *Position) RoundTripFee() float64 {
	return p.Stake * p.FeeRate * 2
}

// ExitReason identifies which exit rule closed a position.
type ExitReason string

const (
	ExitReasonTargetHit      ExitReason = "target_hit"
	ExitReasonFloorViolation ExitReason = "floor_violation"
	ExitReasonStopLoss       ExitReason = "stop_loss"
	ExitReasonFailsafe       ExitReason = "failsafe_hard_stop"
	ExitReasonGridTeardown   ExitReason = "grid_teardown"
	ExitReasonShutdown       ExitReason = "shutdown"
)

// CompletedTrade is the immutable record written when a position reaches
// CLOSED. Append-only; a position appears here exactly once.
type CompletedTrade struct {
	ID         string
	PositionID string
	Symbol     string
	Side       PositionSide
	Strategy   StrategyKind
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	Leverage   float64
	Stake      float64
	NetPnL     float64
	Fees       float64
	ExitReason ExitReason
	EntryTime  time.Time
	ExitTime   time.Time
	Duration   time.Duration
}
