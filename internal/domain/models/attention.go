package models

import "time"

// Bucket classifies attention stability.
type Bucket string

const (
	Stable   Bucket = "STABLE"
	Unstable Bucket = "UNSTABLE"
	Chaotic  Bucket = "CHAOTIC"
)

// BucketFor maps a stability score to its bucket. Thresholds are inclusive
// lower bounds: 70 is STABLE, 40 is UNSTABLE.
func BucketFor(score float64) Bucket {
	switch {
	case score >= 70:
		return Stable
	case score >= 40:
		return Unstable
	default:
		return Chaotic
	}
}

// RiskState is the small-cap versus large-cap risk appetite.
type RiskState string

const (
	RiskOn  RiskState = "RISK_ON"
	RiskOff RiskState = "RISK_OFF"
	Neutral RiskState = "NEUTRAL"
)

// AttentionComponents holds the four weighted sub-scores.
type AttentionComponents struct {
	LeadershipChurn    float64 `json:"leadership_churn"`
	IndexDispersion    float64 `json:"index_dispersion"`
	VolatilityPressure float64 `json:"volatility_pressure"`
	Correlation        float64 `json:"correlation"`
}

// AttentionState is the market stability snapshot.
type AttentionState struct {
	StabilityScore    float64             `json:"attention_stability_score"`
	Bucket            Bucket              `json:"attention_bucket"`
	RiskState         RiskState           `json:"risk_on_off_state"`
	CorrelationRegime string              `json:"correlation_regime"`
	DominantSectors   []string            `json:"dominant_sectors"`
	Components        AttentionComponents `json:"components"`
	Degraded          bool                `json:"degraded"`
	DegradedReason    string              `json:"degraded_reason,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
}
