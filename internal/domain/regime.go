package domain

import "time"

// Regime is a coarse classification of an instrument's recent price behavior.
type Regime string

const (
	RegimeTrendingUp   Regime = "TRENDING_UP"
	RegimeTrendingDown Regime = "TRENDING_DOWN"
	RegimeRanging      Regime = "RANGING"
	RegimeVolatile     Regime = "VOLATILE"
	RegimeUnknown      Regime = "UNKNOWN"
)

// StrategyKind names a trading style that can own a symbol.
type StrategyKind string

const (
	StrategyScalping StrategyKind = "SCALPING"
	StrategyGrid     StrategyKind = "GRID"
	StrategyStandby  StrategyKind = "STANDBY"
)

// StrategyState is the scheduler's per-symbol record. Mutated only by the
// scheduler; readers receive copies.
type StrategyState struct {
	Symbol           string
	CurrentStrategy  StrategyKind
	CurrentRegime    Regime
	LastSwitchTime   time.Time
	SwitchCount      int
	PerformanceScore float64
}
