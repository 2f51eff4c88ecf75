package features

import (
	"math"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rising(n int, start, step float64) []models.Candle {
	out := make([]models.Candle, n)
	t0 := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	for i := range out {
		c := start + float64(i)*step
		out[i] = models.Candle{
			Bucket: t0.Add(time.Duration(i) * 5 * time.Minute),
			Symbol: "AAPL",
			Open:   c - step/2,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func TestPctReturn(t *testing.T) {
	r, ok := PctReturn([]float64{100, 101, 102, 110}, 3)
	require.True(t, ok)
	assert.InDelta(t, 0.10, r, 1e-9)

	// shorter than n uses the whole series
	r, ok = PctReturn([]float64{100, 105}, 12)
	require.True(t, ok)
	assert.InDelta(t, 0.05, r, 1e-9)

	_, ok = PctReturn([]float64{100}, 3)
	assert.False(t, ok)
}

func TestPearsonAndStd(t *testing.T) {
	c, ok := Pearson([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8})
	require.True(t, ok)
	assert.InDelta(t, 1.0, c, 1e-9)

	c, ok = Pearson([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2})
	require.True(t, ok)
	assert.InDelta(t, -1.0, c, 1e-9)

	_, ok = Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok)

	assert.InDelta(t, 2.0, PopStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestSlopePct(t *testing.T) {
	assert.InDelta(t, 4.0, SlopePct([]float64{90, 100, 101, 102, 103, 104}, 5), 1e-9)
	assert.Equal(t, 0.0, SlopePct([]float64{1, 2}, 5))
}

func TestMovingAveragesFollowTrend(t *testing.T) {
	closes := models.Closes(rising(30, 100, 1))

	sma9, ok := LastSMA(closes, 9)
	require.True(t, ok)
	sma21, ok := LastSMA(closes, 21)
	require.True(t, ok)
	assert.InDelta(t, 125.0, sma9, 1e-9)
	assert.Greater(t, sma9, sma21)

	ema9, ok := LastEMA(closes, 9)
	require.True(t, ok)
	ema20, ok := LastEMA(closes, 20)
	require.True(t, ok)
	assert.Greater(t, closes[len(closes)-1], ema9)
	assert.Greater(t, ema9, ema20)

	_, ok = LastSMA(closes[:5], 9)
	assert.False(t, ok)
}

func TestRangesAndATR(t *testing.T) {
	candles := rising(20, 100, 1)

	r, ok := MeanRange(candles, 14)
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-9)

	// high-low is 1, but |high - prev close| is 1.5 on a rising series
	tr, ok := MeanTrueRange(candles, 14)
	require.True(t, ok)
	assert.InDelta(t, 1.5, tr, 1e-9)

	_, ok = MeanTrueRange(candles[:14], 14)
	assert.False(t, ok)

	atr := ATR(candles)
	require.NotEmpty(t, atr)
	assert.True(t, atr[len(atr)-1] > 0 && !math.IsNaN(atr[len(atr)-1]))
}

func TestVWAPAndRelVolume(t *testing.T) {
	candles := []models.Candle{
		{High: 11, Low: 9, Close: 10, Volume: 100},
		{High: 21, Low: 19, Close: 20, Volume: 300},
	}
	v, ok := VWAP(candles)
	require.True(t, ok)
	assert.InDelta(t, 17.5, v, 1e-9)

	_, ok = VWAP([]models.Candle{{High: 1, Low: 1, Close: 1}})
	assert.False(t, ok)

	rv, ok := RelVolume([]float64{100, 100, 100, 100, 400}, 1, 0)
	require.True(t, ok)
	assert.InDelta(t, 2.5, rv, 1e-9)
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 3, 15, 14, 3, 10, 0, time.UTC)
	to := time.Date(2024, 3, 15, 15, 7, 59, 0, time.UTC)
	f, e := AlignFromTo(from, to, domrepo.TF5m)
	assert.Equal(t, time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC), f)
	assert.Equal(t, time.Date(2024, 3, 15, 15, 5, 0, 0, time.UTC), e)
}
