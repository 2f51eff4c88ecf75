package models

import "time"

// Direction is the detected directional bias.
type Direction string

const (
	Long        Direction = "LONG"
	Short       Direction = "SHORT"
	NoDirection Direction = "NEUTRAL"
)

// ConfidenceBand buckets the opportunity score.
type ConfidenceBand string

const (
	BandLow  ConfidenceBand = "LOW"
	BandMed  ConfidenceBand = "MED"
	BandHigh ConfidenceBand = "HIGH"
)

// BandFor maps an opportunity score to LOW (<40), MED (<70) or HIGH.
func BandFor(score float64) ConfidenceBand {
	switch {
	case score < 40:
		return BandLow
	case score < 70:
		return BandMed
	default:
		return BandHigh
	}
}

// ScoreBreakdown holds the component scores behind an opportunity score.
type ScoreBreakdown struct {
	Momentum   float64 `json:"momentum_score"`
	Volatility float64 `json:"volatility_score"`
	Liquidity  float64 `json:"liquidity_score"`
	Stability  float64 `json:"stability_score"`
	Base       float64 `json:"base_score"`
	Adjustment string  `json:"market_state_adjustment"`
}

// Opportunity is one scored instrument. RawConfidence is the heuristic curve
// output; Probability is RawConfidence scaled by the calibration shrink and is
// the only field downstream stages act on.
type Opportunity struct {
	ID                      int64          `json:"id,omitempty"`
	Ticker                  string         `json:"ticker"`
	Horizon                 Horizon        `json:"horizon"`
	OpportunityScore        float64        `json:"opportunity_score"`
	Breakdown               ScoreBreakdown `json:"breakdown"`
	RawConfidence           float64        `json:"raw_confidence"`
	ShrinkFactor            float64        `json:"shrink_factor"`
	Probability             float64        `json:"probability"`
	ConfidencePct           float64        `json:"confidence_pct"`
	ConfidenceBand          ConfidenceBand `json:"confidence_band"`
	Direction               Direction      `json:"direction"`
	DirectionConfidence     float64        `json:"direction_confidence"`
	TargetATR               float64        `json:"target_atr"`
	StopATR                 float64        `json:"stop_atr"`
	ATR                     float64        `json:"atr"`
	Price                   float64        `json:"price"`
	MarketState             Light          `json:"market_state"`
	AttentionStabilityScore float64        `json:"attention_stability_score"`
	AttentionBucket         Bucket         `json:"attention_bucket"`
	Why                     []string       `json:"why"`
	IssuedAt                time.Time      `json:"issued_at"`
}

// OpportunityRank is one ranked batch for a horizon.
type OpportunityRank struct {
	Horizon         Horizon       `json:"horizon"`
	Opportunities   []Opportunity `json:"opportunities"`
	RankTime        time.Time     `json:"rank_time"`
	TotalCandidates int           `json:"total_candidates"`
}

// Top returns the highest-ranked opportunity, or false when the batch is empty.
func (r OpportunityRank) Top() (Opportunity, bool) {
	if len(r.Opportunities) == 0 {
		return Opportunity{}, false
	}
	return r.Opportunities[0], true
}
