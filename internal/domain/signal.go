package domain

import (
	"fmt"
	"time"
)

// EntrySignal is a validated request from a strategy to open a position.
// Signals missing required fields are rejected at the boundary rather than
// defaulted.
type EntrySignal struct {
	ID         string
	Symbol     string
	Side       PositionSide
	Strategy   StrategyKind
	Confidence float64 // 0..1
	Reason     string
	CreatedAt  time.Time
}

// Validate rejects signals with missing or out-of-range fields.
func (s EntrySignal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSignal)
	}
	if s.Side != SideLong && s.Side != SideShort {
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	}
	if s.Strategy != StrategyScalping && s.Strategy != StrategyGrid {
		return fmt.Errorf("%w: strategy %q", ErrInvalidSignal, s.Strategy)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidSignal, s.Confidence)
	}
	return nil
}
