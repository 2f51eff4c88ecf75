package truthtest

import (
	"slices"
	"time"

	"SignalPipe/internal/domain/models"
)

// MinBucketSamples is the number of graded opportunities a bucket needs
// before its own pass rate is trusted. Smaller buckets inherit the global
// shrink.
const MinBucketSamples = 10

// MinShrink is the floor of every shrink factor.
const MinShrink = 0.05

type tally struct {
	samples int
	passes  int
	fails   int
	expired int
	probSum float64
	brier   float64
}

func (t *tally) add(s models.CalibrationSample) {
	t.samples++
	t.probSum += s.Probability
	outcome := 0.0
	if s.Win() {
		t.passes++
		outcome = 1
	}
	switch s.Outcome {
	case models.OutcomeFail:
		t.fails++
	case models.OutcomeExpired:
		t.expired++
	}
	d := s.Probability - outcome
	t.brier += d * d
}

func (t *tally) passRate() float64 {
	if t.samples == 0 {
		return 0
	}
	return float64(t.passes) / float64(t.samples)
}

func (t *tally) avgProbability() float64 {
	if t.samples == 0 {
		return 0
	}
	return t.probSum / float64(t.samples)
}

// shrink is pass rate over issued probability, floored and never above 1.
func (t *tally) shrink() float64 {
	avg := t.avgProbability()
	if t.samples == 0 || avg <= 0 {
		return 1.0
	}
	v := t.passRate() / avg
	if v < MinShrink {
		v = MinShrink
	}
	if v > 1 {
		v = 1
	}
	return round4(v)
}

// Calibrate aggregates graded samples into per-bucket shrink factors. NO_DATA
// samples carry no information and are ignored.
func Calibrate(samples []models.CalibrationSample, windowDays int, now time.Time) models.CalibrationState {
	var global tally
	buckets := map[string]*tally{}
	keys := map[string]models.CalibrationSample{}

	for _, s := range samples {
		if s.Outcome == models.OutcomeNoData {
			continue
		}
		global.add(s)
		k := models.BucketKey(s.Horizon, s.MarketState, s.AttentionBucket)
		if buckets[k] == nil {
			buckets[k] = &tally{}
			keys[k] = s
		}
		buckets[k].add(s)
	}

	state := models.CalibrationState{
		Buckets:      make(map[string]models.BucketCalibration, len(buckets)),
		GlobalShrink: global.shrink(),
		WindowDays:   windowDays,
		UpdatedAt:    now.UTC(),
		GlobalStats: models.CalibrationStats{
			TotalEvaluations: global.samples,
			Passes:           global.passes,
			Fails:            global.fails,
			Expired:          global.expired,
			PassRate:         round4(global.passRate()),
			AvgProbability:   round4(global.avgProbability()),
		},
	}
	state.GlobalStats.GlobalShrink = state.GlobalShrink
	if global.samples > 0 {
		b := round4(global.brier / float64(global.samples))
		state.BrierScore = &b
	}

	degradedH := map[models.Horizon]bool{}
	degradedS := map[models.Light]bool{}
	for k, t := range buckets {
		s := keys[k]
		bc := models.BucketCalibration{
			Horizon:         s.Horizon,
			MarketState:     s.MarketState,
			AttentionBucket: s.AttentionBucket,
			Samples:         t.samples,
			Passes:          t.passes,
			PassRate:        round4(t.passRate()),
			AvgProbability:  round4(t.avgProbability()),
			ShrinkFactor:    t.shrink(),
		}
		if t.samples < MinBucketSamples {
			bc.ShrinkFactor = state.GlobalShrink
			bc.InheritsGlobal = true
		}
		if bc.ShrinkFactor < 1 {
			degradedH[s.Horizon] = true
			degradedS[s.MarketState] = true
		}
		state.Buckets[k] = bc
	}

	for _, h := range models.Horizons {
		if degradedH[h] {
			state.DegradedHorizons = append(state.DegradedHorizons, h)
		}
	}
	for s := range degradedS {
		state.DegradedStates = append(state.DegradedStates, s)
	}
	slices.Sort(state.DegradedStates)
	return state
}
