package models

import "time"

// Outcome is the truth-test classification.
type Outcome string

const (
	OutcomePass    Outcome = "PASS"
	OutcomeFail    Outcome = "FAIL"
	OutcomeExpired Outcome = "EXPIRED"
	OutcomeNoData  Outcome = "NO_DATA"
)

// OpportunityRecord is a persisted opportunity awaiting or under evaluation.
type OpportunityRecord struct {
	ID              int64     `json:"id"`
	Ticker          string    `json:"ticker"`
	Horizon         Horizon   `json:"horizon"`
	Score           float64   `json:"opportunity_score"`
	Probability     float64   `json:"probability"`
	TargetATR       float64   `json:"target_atr"`
	StopATR         float64   `json:"stop_atr"`
	MarketState     Light     `json:"market_state"`
	AttentionBucket Bucket    `json:"attention_bucket"`
	IssuedAt        time.Time `json:"issued_at"`
}

// PerformanceResult is the grading of one opportunity. It is written once.
type PerformanceResult struct {
	OpportunityID    int64         `json:"opportunity_id"`
	Ticker           string        `json:"ticker"`
	Horizon          Horizon       `json:"horizon"`
	Outcome          Outcome       `json:"outcome"`
	EntryPrice       float64       `json:"entry_price"`
	ATR              float64       `json:"atr"`
	TargetPrice      float64       `json:"target_price"`
	StopPrice        float64       `json:"stop_price"`
	RealizedMFE      float64       `json:"realized_mfe"`
	RealizedMAE      float64       `json:"realized_mae"`
	MFEATR           float64       `json:"mfe_atr"`
	MAEATR           float64       `json:"mae_atr"`
	FinalReturn      float64       `json:"final_return"`
	TimeToResolution time.Duration `json:"time_to_resolution"`
	Reason           string        `json:"reason,omitempty"`
	EvaluationTime   time.Time     `json:"evaluation_time"`
}

// Win reports whether the outcome counts as a pass for calibration. An
// expired outcome counts when it closed with a positive return.
func (p PerformanceResult) Win() bool {
	return p.Outcome == OutcomePass || (p.Outcome == OutcomeExpired && p.FinalReturn > 0)
}

// CalibrationSample is one graded row inside the calibration window.
type CalibrationSample struct {
	Horizon         Horizon
	MarketState     Light
	AttentionBucket Bucket
	Probability     float64
	Outcome         Outcome
	FinalReturn     float64
}

// Win mirrors PerformanceResult.Win for aggregated rows.
func (s CalibrationSample) Win() bool {
	return s.Outcome == OutcomePass || (s.Outcome == OutcomeExpired && s.FinalReturn > 0)
}
