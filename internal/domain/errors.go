package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidSignal    = errors.New("invalid entry signal")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrRiskRejected     = errors.New("rejected by risk limits")
	ErrPositionBusy     = errors.New("position lock held")
	ErrPositionNotOpen  = errors.New("position not open")
	ErrMonitorHalted    = errors.New("position monitor halted")
	ErrInsufficientData = errors.New("insufficient market data")
)
