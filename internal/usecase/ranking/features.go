package ranking

import (
	"fmt"
	"math"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
)

// MinBars is the minimum 1m and 5m history a candidate needs to be scored.
const MinBars = 20

const (
	emaFast       = 9
	emaSlow       = 20
	slopeWindow   = 5
	relVolumeBase = 20
	expansionBars = 5
	divergence1m  = 10
	divergence5m  = 5
	recentBars    = 4
)

// Features are the multi-timeframe inputs to the score and direction vote.
// Percentages are expressed in percent, not fractions.
type Features struct {
	Aligned1m    bool
	Separation1m float64
	Slope1m      float64
	RelVolume1m  float64
	Price        float64
	VWAP         float64
	Return1m     float64

	Aligned5m    bool
	Separation5m float64
	Slope5m      float64
	ATR          float64
	ATRExpansion float64
	RelVolume5m  float64
	Return5m     float64

	Divergence float64

	// Daily is set only when daily candles were supplied.
	Daily        bool
	Aligned1d    bool
	Separation1d float64
}

// ATRPct is the ATR as a percentage of price.
func (f Features) ATRPct() float64 {
	if f.Price <= 0 {
		return 0
	}
	return f.ATR / f.Price * 100
}

// Extract computes features from 1m and 5m candles, and optionally daily
// candles for swing horizons.
func Extract(c1m, c5m, c1d []models.Candle) (Features, error) {
	if len(c1m) < MinBars || len(c5m) < MinBars {
		return Features{}, fmt.Errorf("%w: 1m=%d 5m=%d", features.ErrInsufficientCandles, len(c1m), len(c5m))
	}
	var f Features

	closes1m := models.Closes(c1m)
	f.Aligned1m, f.Separation1m = alignment(closes1m)
	f.Slope1m = features.SlopePct(features.EMA(closes1m, emaFast), slopeWindow)
	f.RelVolume1m = relVolume(models.Volumes(c1m))
	f.Price = closes1m[len(closes1m)-1]
	f.VWAP, _ = features.VWAP(c1m)
	f.Return1m = pctReturn(closes1m)

	closes5m := models.Closes(c5m)
	f.Aligned5m, f.Separation5m = alignment(closes5m)
	f.Slope5m = features.SlopePct(features.EMA(closes5m, emaFast), slopeWindow)
	f.ATR, f.ATRExpansion = atrLevel(c5m)
	f.RelVolume5m = relVolume(models.Volumes(c5m))
	f.Return5m = pctReturn(closes5m)

	f.Divergence = math.Abs(features.SlopePct(closes1m, divergence1m) - features.SlopePct(closes5m, divergence5m))

	if len(c1d) >= MinBars {
		f.Daily = true
		f.Aligned1d, f.Separation1d = alignment(models.Closes(c1d))
	}

	if f.Price <= 0 || f.ATR <= 0 {
		return f, fmt.Errorf("invalid price/ATR: price=%.4f atr=%.4f", f.Price, f.ATR)
	}
	return f, nil
}

// alignment reports price > EMA9 > EMA20 and the EMA separation in percent.
func alignment(closes []float64) (bool, float64) {
	fast, ok1 := features.LastEMA(closes, emaFast)
	slow, ok2 := features.LastEMA(closes, emaSlow)
	if !ok1 || !ok2 {
		return false, 0
	}
	price := closes[len(closes)-1]
	sep := 0.0
	if slow > 0 {
		sep = (fast - slow) / slow * 100
	}
	return price > fast && fast > slow, sep
}

// atrLevel returns the latest ATR and its percent change over five bars.
func atrLevel(candles []models.Candle) (float64, float64) {
	atr := features.ATR(candles)
	if len(atr) == 0 {
		return 0, 0
	}
	latest := atr[len(atr)-1]
	if len(atr) <= expansionBars {
		return latest, 0
	}
	prev := atr[len(atr)-1-expansionBars]
	if prev <= 0 {
		return latest, 0
	}
	return latest, (latest - prev) / prev * 100
}

// relVolume is the last volume over the mean of the last twenty.
func relVolume(volumes []float64) float64 {
	if len(volumes) < relVolumeBase {
		return 1
	}
	rv, ok := features.RelVolume(volumes, 1, relVolumeBase)
	if !ok {
		return 1
	}
	return rv
}

func pctReturn(closes []float64) float64 {
	r, ok := features.PctReturn(closes, recentBars)
	if !ok {
		return 0
	}
	return r * 100
}
