package models

import (
	"fmt"
	"time"
)

// BucketKey builds the calibration key H_STATE_BUCKET.
func BucketKey(h Horizon, state Light, bucket Bucket) string {
	return fmt.Sprintf("%s_%s_%s", h, state, bucket)
}

// BucketCalibration is the calibration record of one (horizon, state, bucket).
type BucketCalibration struct {
	Horizon         Horizon `json:"horizon"`
	MarketState     Light   `json:"market_state"`
	AttentionBucket Bucket  `json:"attention_bucket"`
	Samples         int     `json:"samples"`
	Passes          int     `json:"passes"`
	PassRate        float64 `json:"pass_rate"`
	AvgProbability  float64 `json:"avg_probability"`
	ShrinkFactor    float64 `json:"shrink_factor"`
	// InheritsGlobal is set when Samples was too small and ShrinkFactor is
	// the global figure.
	InheritsGlobal bool `json:"inherits_global"`
}

// CalibrationStats aggregates every evaluation in the window.
type CalibrationStats struct {
	TotalEvaluations int     `json:"total_evaluations"`
	Passes           int     `json:"passes"`
	Fails            int     `json:"fails"`
	Expired          int     `json:"expired"`
	PassRate         float64 `json:"pass_rate"`
	AvgProbability   float64 `json:"avg_probability"`
	GlobalShrink     float64 `json:"global_shrink"`
}

// CalibrationState is the per-bucket confidence correction.
type CalibrationState struct {
	Buckets          map[string]BucketCalibration `json:"buckets"`
	GlobalShrink     float64                      `json:"global_shrink"`
	DegradedHorizons []Horizon                    `json:"degraded_horizons"`
	DegradedStates   []Light                      `json:"degraded_states"`
	GlobalStats      CalibrationStats             `json:"global_stats"`
	BrierScore       *float64                     `json:"brier_score"`
	WindowDays       int                          `json:"window_days"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// ClampShrink bounds a shrink factor to (0, 1]. Non-positive and NaN inputs
// map to 1.0 since there is nothing to correct against.
func ClampShrink(v float64) float64 {
	if v != v || v <= 0 {
		return 1.0
	}
	if v > 1 {
		return 1.0
	}
	return v
}

// ShrinkFor returns the shrink for a bucket, falling back to the global shrink
// and then to 1.0. A nil state means no calibration has run yet.
func (c *CalibrationState) ShrinkFor(h Horizon, state Light, bucket Bucket) float64 {
	if c == nil {
		return 1.0
	}
	if b, ok := c.Buckets[BucketKey(h, state, bucket)]; ok {
		return ClampShrink(b.ShrinkFactor)
	}
	if c.GlobalShrink > 0 {
		return ClampShrink(c.GlobalShrink)
	}
	return 1.0
}

// HorizonDegraded reports whether h appears in DegradedHorizons.
func (c *CalibrationState) HorizonDegraded(h Horizon) bool {
	if c == nil {
		return false
	}
	for _, d := range c.DegradedHorizons {
		if d == h {
			return true
		}
	}
	return false
}
