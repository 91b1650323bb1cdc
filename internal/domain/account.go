package domain

import "time"

// Account holds the virtual capital state. Balance is free capital;
// Allocated is the sum of stakes committed to open positions. Equity is
// balance + allocated + unrealized PnL at the last mark.
type Account struct {
	Balance     float64
	Allocated   float64
	Equity      float64
	PeakBalance float64
	MaxDrawdown float64 // fraction of peak, 0..1

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	RealizedPnL   float64
}

// AccountStatus is the concurrency-safe snapshot returned by the status
// surface. MonitorRunning reflects whether the position monitor loop is
// still alive; a halted monitor is surfaced here rather than hidden.
type AccountStatus struct {
	Account        Account
	OpenPositions  int
	MonitorRunning bool
	MonitorError   string
	LastTick       time.Time
}
