package features

import (
	"errors"
	"math"

	"SignalPipe/internal/domain/models"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// ErrInsufficientCandles is returned when a series is too short for the
// requested indicator.
var ErrInsufficientCandles = errors.New("insufficient candles")

// ATRPeriod is the lookback of every ATR in the pipeline.
const ATRPeriod = 14

// SMA returns the simple moving average series. The indicator drops its idle
// period, so the last element lines up with the last input.
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
}

// EMA returns the exponential moving average series.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(helper.SliceToChan(values)))
}

// LastSMA is the latest SMA value.
func LastSMA(values []float64, period int) (float64, bool) {
	return last(SMA(values, period))
}

// LastEMA is the latest EMA value.
func LastEMA(values []float64, period int) (float64, bool) {
	return last(EMA(values, period))
}

// ATR returns the average true range series for the candles.
func ATR(candles []models.Candle) []float64 {
	if len(candles) <= ATRPeriod {
		return nil
	}
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closing := make([]float64, len(candles))
	for i, c := range candles {
		high[i], low[i], closing[i] = c.High, c.Low, c.Close
	}
	atr := volatility.NewAtr[float64]()
	return helper.ChanToSlice(atr.Compute(
		helper.SliceToChan(high),
		helper.SliceToChan(low),
		helper.SliceToChan(closing),
	))
}

// MeanRange is the mean of high-low over the last n candles.
func MeanRange(candles []models.Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < n {
		return 0, false
	}
	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.High - c.Low
	}
	return sum / float64(n), true
}

// MeanTrueRange averages the true range of the last n periods. It needs n+1
// candles since each true range reads the previous close.
func MeanTrueRange(candles []models.Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < n+1 {
		return 0, false
	}
	window := candles[len(candles)-n-1:]
	sum := 0.0
	for i := 1; i < len(window); i++ {
		c, prev := window[i], window[i-1].Close
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev), math.Abs(c.Low-prev)))
		sum += tr
	}
	return sum / float64(n), true
}

// VWAP is the session volume-weighted average of the typical price.
func VWAP(candles []models.Candle) (float64, bool) {
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * c.Volume
		vol += c.Volume
	}
	if vol <= 0 {
		return 0, false
	}
	return pv / vol, true
}

// RelVolume is the mean of the last recent volumes over the mean of the last
// base volumes (the whole series when base <= 0).
func RelVolume(volumes []float64, recent, base int) (float64, bool) {
	if len(volumes) == 0 || recent <= 0 {
		return 0, false
	}
	denom := Mean(Tail(volumes, base))
	if denom <= 0 {
		return 0, false
	}
	return Mean(Tail(volumes, recent)) / denom, true
}

func last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}
