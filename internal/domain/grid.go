package domain

import "time"

// GridSide is the order side of a grid level.
type GridSide string

const (
	GridBuy  GridSide = "BUY"
	GridSell GridSide = "SELL"
)

// GridLevel is one rung of a grid ladder. Price never changes after
// creation; when a filled level's profit target is reached the level is
// logically replaced by a new opposite-side level one spacing further out.
type GridLevel struct {
	ID           string
	Symbol       string
	Price        float64
	Side         GridSide
	OrderSize    float64 // stake in USD committed when the level fills
	Filled       bool
	FillTime     time.Time
	PositionID   string // set once the fill opened a position
	ProfitTarget float64
}
