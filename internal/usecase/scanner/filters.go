package scanner

import (
	"fmt"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/services/features"
)

// Filter thresholds.
const (
	MinLiquidityBars = 10
	MinAvgVolume     = 100_000
	MinRelVolume     = 1.5
	relVolumeBars    = 5

	MinATRBars = 14
	MinPrice   = 5.0
	MaxPrice   = 10_000.0
	MinATRPct  = 0.01

	MinStructureBars = 20
	smaFast          = 9
	smaSlow          = 21
)

// Filter names reported on rejection.
const (
	FilterLiquidity  = "liquidity"
	FilterVolatility = "volatility"
	FilterStructure  = "structure"
)

// Verdict is the outcome of running the filter chain on one ticker.
type Verdict struct {
	Passed    bool
	Filter    string
	Reason    string
	Candidate models.Candidate
}

func reject(filter, format string, args ...interface{}) Verdict {
	return Verdict{Filter: filter, Reason: fmt.Sprintf(format, args...)}
}

// Apply runs liquidity, volatility and structure filters in order and stops
// at the first rejection.
func Apply(ticker string, candles []models.Candle) Verdict {
	if len(candles) == 0 {
		return reject(FilterLiquidity, "no data available")
	}
	c := models.Candidate{Ticker: ticker}

	// liquidity
	if len(candles) < MinLiquidityBars {
		return reject(FilterLiquidity, "insufficient data points: %d", len(candles))
	}
	volumes := models.Volumes(candles)
	c.AvgVolume = features.Mean(volumes)
	if c.AvgVolume < MinAvgVolume {
		return reject(FilterLiquidity, "low average volume: %.0f", c.AvgVolume)
	}
	c.RelVolume, _ = features.RelVolume(volumes, relVolumeBars, 0)
	if c.RelVolume < MinRelVolume {
		return reject(FilterLiquidity, "low relative volume: %.2fx", c.RelVolume)
	}

	// volatility
	if len(candles) < MinATRBars {
		return reject(FilterVolatility, "insufficient data for ATR: %d", len(candles))
	}
	c.ATR, _ = features.MeanRange(candles, features.ATRPeriod)
	c.Price = candles[len(candles)-1].Close
	if c.Price < MinPrice || c.Price > MaxPrice {
		return reject(FilterVolatility, "price out of bounds: %.2f", c.Price)
	}
	c.ATRPct = c.ATR / c.Price
	if c.ATRPct < MinATRPct {
		return reject(FilterVolatility, "low volatility (ATR): %.4f", c.ATRPct)
	}

	// structure
	if len(candles) < MinStructureBars {
		return reject(FilterStructure, "insufficient data for structure: %d", len(candles))
	}
	closes := models.Closes(candles)
	fast, ok1 := features.LastSMA(closes, smaFast)
	slow, ok2 := features.LastSMA(closes, smaSlow)
	if !ok1 || !ok2 {
		return reject(FilterStructure, "cannot calculate trend")
	}
	switch {
	case c.Price > fast && fast > slow:
		c.Trend = models.TrendUp
	case c.Price < fast && fast < slow:
		c.Trend = models.TrendDown
	default:
		return reject(FilterStructure, "CHOP")
	}
	return Verdict{Passed: true, Candidate: c}
}
