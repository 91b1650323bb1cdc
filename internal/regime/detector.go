// Package regime classifies recent price action into coarse market regimes
// and smooths the raw classifications with a hysteresis buffer so a single
// noisy reading cannot flip the active strategy.
package regime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/adquadir/crypto-trading-bot-sub002/internal/config"
	"github.com/adquadir/crypto-trading-bot-sub002/internal/domain"
)

// Classifier turns a candle series into a raw regime reading.
type Classifier struct {
	cfg config.RegimeConfig
}

// NewClassifier creates a Classifier with the given thresholds.
func NewClassifier(cfg config.RegimeConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify returns a raw regime for the series. It needs at least
// long_ema+atr_period candles; anything less yields UNKNOWN with
// ErrInsufficientData.
//
// Order of checks: volatility trumps trend (a violent trend is still
// VOLATILE for strategy purposes), trend trumps range, and a Bollinger
// squeeze confirms RANGING.
func (c *Classifier) Classify(candles []domain.Candle) (domain.Regime, error) {
	need := c.cfg.LongEMA + c.cfg.ATRPeriod
	if len(candles) < need {
		return domain.RegimeUnknown, fmt.Errorf("regime: %d candles, need %d: %w",
			len(candles), need, domain.ErrInsufficientData)
	}

	closes := closesOf(candles)
	last := closes[len(closes)-1]
	if last <= 0 {
		return domain.RegimeUnknown, fmt.Errorf("regime: non-positive close: %w", domain.ErrInsufficientData)
	}

	avgRange := atr(candles, c.cfg.ATRPeriod)
	atrPct := avgRange / last
	if atrPct >= c.cfg.VolatilityPct {
		return domain.RegimeVolatile, nil
	}

	shortE := ema(closes, c.cfg.ShortEMA)
	longE := ema(closes, c.cfg.LongEMA)
	if avgRange > 0 {
		strength := (shortE - longE) / avgRange
		if strength >= c.cfg.TrendStrength {
			return domain.RegimeTrendingUp, nil
		}
		if strength <= -c.cfg.TrendStrength {
			return domain.RegimeTrendingDown, nil
		}
	}

	if bollingerWidth(closes, c.cfg.LongEMA) <= c.cfg.SqueezeWidthPct {
		return domain.RegimeRanging, nil
	}
	// Neither trending nor squeezed nor violent: directionless chop.
	return domain.RegimeRanging, nil
}

// buffer smooths raw readings. The effective regime only changes after size
// consecutive readings all agree on a different one; any interruption resets
// the run.
type buffer struct {
	size      int
	raw       []domain.Regime
	effective domain.Regime
}

func newBuffer(size int) *buffer {
	if size < 1 {
		size = 1
	}
	return &buffer{size: size, effective: domain.RegimeUnknown}
}

// push records a raw reading and returns the (possibly updated) effective
// regime. The buffer holds the last size readings; a flip commits only once
// every slot carries the same non-effective regime.
func (b *buffer) push(raw domain.Regime) domain.Regime {
	b.raw = append(b.raw, raw)
	if len(b.raw) > b.size {
		b.raw = b.raw[len(b.raw)-b.size:]
	}

	if len(b.raw) < b.size || raw == b.effective {
		return b.effective
	}
	for _, r := range b.raw {
		if r != raw {
			return b.effective
		}
	}
	b.effective = raw
	return b.effective
}

// Detector owns a per-symbol hysteresis buffer and pulls candle series from
// the exchange on demand.
type Detector struct {
	cfg        config.RegimeConfig
	classifier *Classifier
	exchange   domain.ExchangeClient
	logger     *slog.Logger

	mu      sync.Mutex
	buffers map[string]*buffer
}

// NewDetector creates a Detector reading series from exchange.
func NewDetector(cfg config.RegimeConfig, exchange domain.ExchangeClient, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:        cfg,
		classifier: NewClassifier(cfg),
		exchange:   exchange,
		logger:     logger.With(slog.String("component", "regime_detector")),
		buffers:    make(map[string]*buffer),
	}
}

// Evaluate fetches the recent series for symbol, classifies it, feeds the
// reading through the hysteresis buffer, and returns the effective regime.
// On insufficient data the buffer absorbs an UNKNOWN reading rather than
// erroring the caller out, so a cold start degrades to STANDBY upstream.
func (d *Detector) Evaluate(ctx context.Context, symbol string) (domain.Regime, error) {
	candles, err := d.exchange.GetRecentSeries(ctx, symbol, d.cfg.CandleWindow)
	if err != nil {
		return domain.RegimeUnknown, fmt.Errorf("regime: series %s: %w", symbol, err)
	}

	raw, err := d.classifier.Classify(candles)
	if err != nil {
		d.logger.Debug("classification degraded",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	d.mu.Lock()
	buf, ok := d.buffers[symbol]
	if !ok {
		buf = newBuffer(d.cfg.BufferSize)
		d.buffers[symbol] = buf
	}
	effective := buf.push(raw)
	d.mu.Unlock()

	if raw != effective {
		d.logger.Debug("raw regime suppressed by hysteresis",
			slog.String("symbol", symbol),
			slog.String("raw", string(raw)),
			slog.String("effective", string(effective)),
		)
	}
	return effective, nil
}

// Current returns the effective regime for symbol without a new evaluation.
func (d *Detector) Current(symbol string) domain.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[symbol]; ok {
		return buf.effective
	}
	return domain.RegimeUnknown
}
