package truthtest

import (
	"testing"
	"time"

	"SignalPipe/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samples(h models.Horizon, state models.Light, bucket models.Bucket, p float64, outcomes ...models.Outcome) []models.CalibrationSample {
	out := make([]models.CalibrationSample, len(outcomes))
	for i, o := range outcomes {
		out[i] = models.CalibrationSample{Horizon: h, MarketState: state, AttentionBucket: bucket, Probability: p, Outcome: o}
	}
	return out
}

func repeat(o models.Outcome, n int) []models.Outcome {
	out := make([]models.Outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}

func TestMinBucketSamples(t *testing.T) {
	assert.Equal(t, 10, MinBucketSamples)
}

func TestCalibrateBucketsAndGlobalFallback(t *testing.T) {
	var in []models.CalibrationSample
	in = append(in, samples(models.H30, models.Green, models.Stable, 0.8,
		append(repeat(models.OutcomePass, 6), repeat(models.OutcomeFail, 6)...)...)...)
	in = append(in, samples(models.H2H, models.Yellow, models.Unstable, 0.6, repeat(models.OutcomePass, 3)...)...)
	in = append(in, samples(models.HDAY, models.Green, models.Stable, 0.9, models.OutcomeNoData)...)

	now := time.Date(2024, 3, 15, 20, 10, 0, 0, time.UTC)
	state := Calibrate(in, 30, now)

	h30 := state.Buckets["H30_GREEN_STABLE"]
	assert.Equal(t, 12, h30.Samples)
	assert.Equal(t, 6, h30.Passes)
	assert.InDelta(t, 0.5, h30.PassRate, 1e-9)
	assert.InDelta(t, 0.625, h30.ShrinkFactor, 1e-9)
	assert.False(t, h30.InheritsGlobal)

	// 15 samples, 9 passes, average probability 0.76
	assert.InDelta(t, 0.7895, state.GlobalShrink, 1e-9)
	assert.Equal(t, 15, state.GlobalStats.TotalEvaluations)
	assert.Equal(t, 6, state.GlobalStats.Fails)

	h2h := state.Buckets["H2H_YELLOW_UNSTABLE"]
	assert.Equal(t, 3, h2h.Samples)
	assert.True(t, h2h.InheritsGlobal)
	assert.InDelta(t, state.GlobalShrink, h2h.ShrinkFactor, 1e-9)

	_, ok := state.Buckets["HDAY_GREEN_STABLE"]
	assert.False(t, ok, "NO_DATA rows are not evidence")

	assert.Equal(t, []models.Horizon{models.H30, models.H2H}, state.DegradedHorizons)
	assert.Equal(t, []models.Light{models.Green, models.Yellow}, state.DegradedStates)
	assert.Equal(t, 30, state.WindowDays)
	assert.Equal(t, now, state.UpdatedAt)

	require.NotNil(t, state.BrierScore)
	// 6×0.04 + 6×0.64 + 3×0.16 over 15
	assert.InDelta(t, 0.304, *state.BrierScore, 1e-9)

	assert.InDelta(t, 0.625, state.ShrinkFor(models.H30, models.Green, models.Stable), 1e-9)
	assert.InDelta(t, 0.7895, state.ShrinkFor(models.HWEEK, models.Green, models.Stable), 1e-9)
}

func TestCalibrateShrinkBounds(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []models.Outcome
		want     float64
	}{
		{"all fail hits the floor", repeat(models.OutcomeFail, 10), MinShrink},
		{"better than issued never boosts", repeat(models.OutcomePass, 10), 1.0},
		{"positive expiry counts as a pass", repeat(models.OutcomeExpired, 10), 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := samples(models.H30, models.Green, models.Stable, 0.5, tc.outcomes...)
			for i := range in {
				in[i].FinalReturn = 0.3
			}
			state := Calibrate(in, 30, time.Now())
			got := state.Buckets["H30_GREEN_STABLE"].ShrinkFactor
			assert.InDelta(t, tc.want, got, 1e-9)
			assert.Greater(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestCalibrateEmpty(t *testing.T) {
	state := Calibrate(nil, 30, time.Now())
	assert.Empty(t, state.Buckets)
	assert.Equal(t, 1.0, state.GlobalShrink)
	assert.Nil(t, state.BrierScore)
	assert.Empty(t, state.DegradedHorizons)
}
