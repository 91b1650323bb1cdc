// Package exitrule implements the four-tier dollar-denominated exit policy.
// Evaluation is pure: the engine never touches shared state, it only reports
// the mutations (high-water mark, floor activation) the caller must persist.
package exitrule

import (
	"math"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// Decision is a request to close a position, produced when one of the exit
// tiers matched.
type Decision struct {
	Reason domain.ExitReason
	NetPnL float64
	Price  float64
}

// Evaluation is the full result of one rule pass. NetPnL, HighestProfit and
// FloorActivated must be written back to the position by the caller even when
// Exit is nil; HighestProfit never decreases and FloorActivated never reverts
// to false.
type Evaluation struct {
	NetPnL         float64
	GrossPnL       float64
	HighestProfit  float64
	FloorActivated bool
	Exit           *Decision
}

// Engine evaluates open positions against their exit thresholds. It holds no
// per-position state.
type Engine struct{}

// New returns an exit rule engine.
func New() *Engine {
	return &Engine{}
}

// Evaluate runs the exit tiers in order against the position at the given
// price. First match wins:
//
//  1. primary profit target
//  2. floor protection (after updating the high-water mark)
//  3. stop-loss (only reachable while the floor has never activated)
//  4. failsafe hard stop (unconditional)
//
// Threshold comparisons are inclusive: exactly-at-threshold triggers.
func (e *Engine) Evaluate(p *domain.Position, price float64) Evaluation {
	gross := p.GrossPnL(price)
	net := gross - p.RoundTripFee()

	ev := Evaluation{
		NetPnL:         net,
		GrossPnL:       gross,
		HighestProfit:  p.HighestProfit,
		FloorActivated: p.FloorActivated,
	}

	// Tier 1: primary target.
	if net >= p.TargetNet {
		ev.Exit = &Decision{Reason: domain.ExitReasonTargetHit, NetPnL: net, Price: price}
		return ev
	}

	// Tier 2: floor protection. The high-water mark moves first, then the
	// sticky activation flag, then the violation check.
	if net > ev.HighestProfit {
		ev.HighestProfit = net
	}
	if ev.HighestProfit >= p.FloorNet {
		ev.FloorActivated = true
	}
	if ev.FloorActivated && net <= p.FloorNet {
		ev.Exit = &Decision{Reason: domain.ExitReasonFloorViolation, NetPnL: net, Price: price}
		return ev
	}

	// Tier 3: stop-loss. Once the floor has activated the floor tier owns
	// the downside, so the plain stop is skipped.
	if !ev.FloorActivated && net <= -p.StopLossNet {
		ev.Exit = &Decision{Reason: domain.ExitReasonStopLoss, NetPnL: net, Price: price}
		return ev
	}

	// Tier 4: failsafe. Unconditional hard stop, reachable even when the
	// floor state is inconsistent.
	if net <= -p.FailsafeNet {
		ev.Exit = &Decision{Reason: domain.ExitReasonFailsafe, NetPnL: net, Price: price}
		return ev
	}

	return ev
}

// ExitPrices holds the price levels at which each dollar threshold is hit
// exactly, net of fee drag. They are back-solved from the target dollar
// amounts rather than assumed from a fixed percentage move.
type ExitPrices struct {
	Target   float64
	Floor    float64
	StopLoss float64
	Failsafe float64
}

// SolveExitPrices back-solves, for each net dollar threshold of the position,
// the exact price at which that threshold is reached. For a LONG position a
// net profit of T dollars requires gross = T + fees, i.e.
//
//	price = entry + (T + roundTripFee) / quantity
//
// and symmetrically for SHORT and for losses. The quantity already embeds
// leverage (qty = stake*leverage/entry), so the returned deltas shrink as
// leverage grows.
func SolveExitPrices(p *domain.Position) ExitPrices {
	fee := p.RoundTripFee()

	delta := func(net float64) float64 {
		if p.Quantity == 0 {
			return 0
		}
		d := (net + fee) / p.Quantity
		if p.Side == domain.SideShort {
			return -d
		}
		return d
	}

	return ExitPrices{
		Target:   p.EntryPrice + delta(p.TargetNet),
		Floor:    p.EntryPrice + delta(p.FloorNet),
		StopLoss: p.EntryPrice + delta(-p.StopLossNet),
		Failsafe: p.EntryPrice + delta(-p.FailsafeNet),
	}
}

// StopLossMovePct returns the fractional adverse price move that produces
// exactly the position's stop-loss dollar amount, adjusting for leverage and
// fee drag.
func StopLossMovePct(p *domain.Position) float64 {
	prices := SolveExitPrices(p)
	return math.Abs(prices.StopLoss-p.EntryPrice) / p.EntryPrice
}
