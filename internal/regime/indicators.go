package regime

import (
	"math"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// ema computes an exponential moving average over values with the standard
// 2/(period+1) smoothing, seeded by the simple average of the first period.
func ema(values []float64, period int) float64 {
	if len(values) < period || period < 1 {
		return 0
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	out := seed / float64(period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		out = v*k + out*(1-k)
	}
	return out
}

// atr computes the average true range over the last period candles.
func atr(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 || period < 1 {
		return 0
	}
	start := len(candles) - period
	var sum float64
	for i := start; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := candles[i].High - candles[i].Low
		tr = math.Max(tr, math.Abs(candles[i].High-prevClose))
		tr = math.Max(tr, math.Abs(candles[i].Low-prevClose))
		sum += tr
	}
	return sum / float64(period)
}

// stddev computes the population standard deviation of values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// bollingerWidth returns the width of a 2-sigma Bollinger band over the last
// period closes, as a fraction of the middle band.
func bollingerWidth(closes []float64, period int) float64 {
	if len(closes) < period || period < 2 {
		return 0
	}
	window := closes[len(closes)-period:]
	var mid float64
	for _, v := range window {
		mid += v
	}
	mid /= float64(period)
	if mid <= 0 {
		return 0
	}
	sd := stddev(window)
	return (4 * sd) / mid
}

// closesOf extracts the close series from candles.
func closesOf(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
