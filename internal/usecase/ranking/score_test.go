package ranking

import (
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/usecase/usecasetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawConfidenceCurve(t *testing.T) {
	cases := []struct {
		score float64
		want  float64
	}{
		{0, 0},
		{30, 0.30},
		{50, 0.50},
		// 0.50 + 0.45 * 0.64^1.5
		{82, 0.7304},
		{100, 0.95},
		{140, 0.95},
		{-5, 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, RawConfidence(tc.score), 1e-4, "score %v", tc.score)
	}
}

func strongFeatures() Features {
	return Features{
		Aligned1m:    true,
		Separation1m: 0.5,
		Slope1m:      4,
		RelVolume1m:  2,
		Price:        100,
		VWAP:         99,
		Return1m:     0.4,
		Aligned5m:    true,
		Slope5m:      2,
		ATR:          2.5,
		ATRExpansion: 20,
		RelVolume5m:  2,
		Return5m:     0.5,
		Divergence:   0.3,
	}
}

func TestScoreWeightsAndYellowPenalty(t *testing.T) {
	f := strongFeatures()

	score, b, why := Score(f, models.Green)
	// momentum 40+2+30+1, volatility 75+15, liquidity 100, stability 100
	assert.Equal(t, 73.0, b.Momentum)
	assert.Equal(t, 90.0, b.Volatility)
	assert.Equal(t, 100.0, b.Liquidity)
	assert.Equal(t, 100.0, b.Stability)
	assert.InDelta(t, 86.7, b.Base, 1e-9)
	assert.InDelta(t, 86.7, score, 1e-9)
	assert.Contains(t, why, "MarketState: GREEN state (no penalty)")

	yellow, b, _ := Score(f, models.Yellow)
	assert.InDelta(t, 76.7, yellow, 1e-9)
	assert.Equal(t, "YELLOW state penalty (-10)", b.Adjustment)

	weak := Features{Price: 100, ATR: 0.1, RelVolume1m: 0.5, RelVolume5m: 0.5, Divergence: 9}
	floor, _, _ := Score(weak, models.Yellow)
	assert.Equal(t, 0.0, floor)
}

func TestMomentumSeparationBonusCapped(t *testing.T) {
	f := Features{Aligned1m: true, Separation1m: 8, Slope1m: 40, Aligned5m: true, Separation5m: 3, Slope5m: 40}
	// 40+10+10 + 30+6+10 caps at 100
	assert.Equal(t, 100.0, momentumScore(f))

	f = Features{Aligned1m: true, Separation1m: 3}
	assert.Equal(t, 46.0, momentumScore(f))
}

func TestDirectionVote(t *testing.T) {
	long := Direction(strongFeatures())
	assert.Equal(t, models.Long, long.Direction)
	// 7 bullish of 7 signals: 7/9
	assert.InDelta(t, 77.8, long.Confidence, 1e-9)
	assert.Contains(t, long.Reason, "Volume confirms up")

	short := Direction(Features{Slope1m: -1, Slope5m: -2, Price: 98, VWAP: 100, Return5m: -1})
	assert.Equal(t, models.Short, short.Direction)
	assert.InDelta(t, 66.7, short.Confidence, 1e-9)

	mixed := Direction(Features{Slope1m: 1, Slope5m: -1, Price: 98, VWAP: 100, Return5m: 0.5})
	assert.Equal(t, models.NoDirection, mixed.Direction)
	assert.Equal(t, 30.0, mixed.Confidence)

	none := Direction(Features{})
	assert.Equal(t, models.NoDirection, none.Direction)
	assert.Zero(t, none.Confidence)
}

var now = time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

// uptrend builds 1m, 5m and daily history ending at now.
func uptrend(sym string, step float64) CandleSet {
	return CandleSet{
		M1: usecasetest.Series(sym, now.Add(-99*time.Minute), time.Minute, 100, 50_000, func(i int) float64 {
			return 100 + step*float64(i)
		}),
		M5: usecasetest.Series(sym, now.Add(-49*5*time.Minute), 5*time.Minute, 50, 200_000, func(i int) float64 {
			return 100 + 5*step*float64(i)
		}),
		D1: usecasetest.Series(sym, now.AddDate(0, 0, -29), 24*time.Hour, 30, 5e6, func(i int) float64 {
			return 80 + float64(i)
		}),
	}
}

func TestExtractRequiresHistory(t *testing.T) {
	set := uptrend("AAPL", 0.05)
	_, err := Extract(set.M1[:10], set.M5, nil)
	require.Error(t, err)

	f, err := Extract(set.M1, set.M5, set.D1)
	require.NoError(t, err)
	assert.True(t, f.Aligned1m)
	assert.True(t, f.Aligned5m)
	assert.True(t, f.Daily)
	assert.True(t, f.Aligned1d)
	assert.Greater(t, f.ATR, 0.0)
	assert.Greater(t, f.Slope5m, 0.0)
	assert.InDelta(t, 104.95, f.Price, 1e-9)
}

func TestBuildAppliesShrinkAndHorizonMultiples(t *testing.T) {
	set := uptrend("AAPL", 0.05)
	att := models.AttentionState{StabilityScore: 85, Bucket: models.Stable}
	cal := &models.CalibrationState{
		Buckets: map[string]models.BucketCalibration{
			models.BucketKey(models.H2H, models.Green, models.Stable):  {ShrinkFactor: 0.5},
			models.BucketKey(models.HDAY, models.Green, models.Stable): {ShrinkFactor: 1.7},
		},
		GlobalShrink: 0.8,
	}

	h2h, err := Build("AAPL", models.H2H, set, models.Green, att, cal, now)
	require.NoError(t, err)
	assert.Equal(t, 2.0, h2h.TargetATR)
	assert.Equal(t, 1.0, h2h.StopATR)
	assert.Equal(t, 0.5, h2h.ShrinkFactor)
	assert.InDelta(t, h2h.RawConfidence*0.5, h2h.Probability, 1e-12)
	assert.Contains(t, h2h.Why, "Calibration shrink: 0.50")

	h30, err := Build("AAPL", models.H30, set, models.Green, att, cal, now)
	require.NoError(t, err)
	assert.Equal(t, 0.8, h30.ShrinkFactor)
	assert.Equal(t, 1.5, h30.TargetATR)
	assert.Equal(t, 0.75, h30.StopATR)

	hday, err := Build("AAPL", models.HDAY, set, models.Green, att, cal, now)
	require.NoError(t, err)
	assert.Equal(t, 1.0, hday.ShrinkFactor)
	assert.Contains(t, hday.Why, "Daily trend aligned")

	for _, o := range []models.Opportunity{h2h, h30, hday} {
		assert.LessOrEqual(t, o.Probability, o.RawConfidence)
		assert.Greater(t, o.ShrinkFactor, 0.0)
		assert.LessOrEqual(t, o.ShrinkFactor, 1.0)
		assert.Equal(t, models.BandFor(o.OpportunityScore), o.ConfidenceBand)
	}

	uncalibrated, err := Build("AAPL", models.H2H, set, models.Green, att, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 1.0, uncalibrated.ShrinkFactor)
	assert.Equal(t, uncalibrated.RawConfidence, uncalibrated.Probability)
}

func TestUrgencyDefaultsAndBreakout(t *testing.T) {
	u := Urgency(nil, nil)
	assert.Equal(t, models.UrgencyWatch, u.Level)
	assert.Equal(t, 50.0, u.Score)
	assert.Equal(t, []string{"Insufficient data"}, u.Warnings)

	// flat base, then the last 5m bar clears the prior high on heavy volume
	c5m := usecasetest.Series("NVDA", now.Add(-29*5*time.Minute), 5*time.Minute, 30, 200_000, func(i int) float64 {
		if i == 29 {
			return 103
		}
		return 100
	})
	c1m := usecasetest.Series("NVDA", now.Add(-29*time.Minute), time.Minute, 30, 10_000, func(i int) float64 {
		if i >= 27 {
			return 100 + float64(i-26)
		}
		return 100
	})
	for i := 27; i < 30; i++ {
		c1m[i].Volume = 50_000
	}
	u = Urgency(c1m, c5m)
	assert.Contains(t, u.Triggers, SignalBreakoutHigh)
	assert.Contains(t, u.Triggers, SignalVolumeSurge)
	assert.True(t, u.Score >= 0 && u.Score <= 100)
	assert.Contains(t, u.WhyNow, u.Level+": ")
}

func TestUrgencyLevel(t *testing.T) {
	assert.Equal(t, models.UrgencyNow, urgencyLevel(62, []string{SignalVolumeSurge}, nil))
	assert.Equal(t, models.UrgencySoon, urgencyLevel(62, []string{SignalAboveVWAP}, nil))
	assert.Equal(t, models.UrgencyWatch, urgencyLevel(80, nil, []string{WarnOverextended}))
	assert.Equal(t, models.UrgencyWait, urgencyLevel(35, nil, []string{WarnMomentumFading}))
	assert.Equal(t, models.UrgencyNow, urgencyLevel(75, nil, nil))
	assert.Equal(t, models.UrgencyWatch, urgencyLevel(45, nil, nil))
	assert.Equal(t, models.UrgencyWait, urgencyLevel(30, nil, nil))
	assert.Equal(t, models.UrgencyAvoid, urgencyLevel(29.9, nil, nil))

	assert.Equal(t, "WATCH: No strong signals", whyNow(models.UrgencyWatch, nil, nil))
	assert.Equal(t, "NOW: Breakout above recent high | Volume surge confirms move | Low volume - lack of conviction",
		whyNow(models.UrgencyNow, []string{SignalBreakoutHigh, SignalVolumeSurge, SignalNearMean}, []string{WarnLowVolume}))
}
