package models

import "time"

// ReasonCode is a machine-readable query finding.
type ReasonCode string

const (
	ReasonMarketRed           ReasonCode = "MARKET_STATE_RED"
	ReasonMarketYellow        ReasonCode = "MARKET_STATE_YELLOW"
	ReasonAttentionChaotic    ReasonCode = "ATTENTION_CHAOTIC"
	ReasonAttentionUnstable   ReasonCode = "ATTENTION_UNSTABLE"
	ReasonCalibrationDegraded ReasonCode = "CALIBRATION_DEGRADED"
	ReasonNoData              ReasonCode = "NO_DATA"
	ReasonLowConfidence       ReasonCode = "LOW_CONFIDENCE"
	ReasonLowProbability      ReasonCode = "LOW_PROBABILITY"
	ReasonScoringFailed       ReasonCode = "SCORING_FAILED"
	ReasonScoringError        ReasonCode = "SCORING_ERROR"
	ReasonHighConfidence      ReasonCode = "HIGH_CONFIDENCE"
	ReasonMarketGreen         ReasonCode = "MARKET_GREEN"
	ReasonAttentionStable     ReasonCode = "ATTENTION_STABLE"
)

// Severity grades a stand-down.
type Severity string

const (
	SeverityHard Severity = "HARD"
	SeveritySoft Severity = "SOFT"
	SeverityInfo Severity = "INFO"
)

// Stand-down actions.
const (
	ActionDoNotTrade = "DO NOT TRADE"
	ActionWait       = "WAIT"
	ActionMonitor    = "MONITOR"
)

// StandDown explains why a ticker should or should not be acted on.
type StandDown struct {
	Action       string   `json:"action"`
	Severity     Severity `json:"severity"`
	Explanations []string `json:"explanations"`
	Summary      string   `json:"summary"`
}

// MarketContext is the market-state slice of a query answer.
type MarketContext struct {
	State       Light    `json:"state"`
	Reason      string   `json:"reason"`
	Volatility  *float64 `json:"volatility"`
	MarketHours bool     `json:"market_hours"`
}

// AttentionContext is the attention slice of a query answer.
type AttentionContext struct {
	Score    float64   `json:"score"`
	Bucket   Bucket    `json:"bucket"`
	Risk     RiskState `json:"risk"`
	Degraded bool      `json:"degraded"`
}

// CalibrationContext is the calibration slice of a query answer.
type CalibrationContext struct {
	GlobalShrink     float64   `json:"global_shrink"`
	DegradedHorizons []Horizon `json:"degraded_horizons"`
	DegradedStates   []Light   `json:"degraded_states"`
	TotalEvaluations int       `json:"total_evaluations"`
}

// HorizonBreakdown is the scoring of one allowed horizon for a query.
type HorizonBreakdown struct {
	Horizon     Horizon        `json:"horizon"`
	Score       float64        `json:"opportunity_score"`
	Breakdown   ScoreBreakdown `json:"breakdown"`
	Raw         float64        `json:"raw_confidence"`
	Shrink      float64        `json:"shrink_factor"`
	Probability float64        `json:"probability"`
	TargetATR   float64        `json:"target_atr"`
	StopATR     float64        `json:"stop_atr"`
}

// Urgency levels, most to least pressing.
const (
	UrgencyNow   = "NOW"
	UrgencySoon  = "SOON"
	UrgencyWatch = "WATCH"
	UrgencyWait  = "WAIT"
	UrgencyAvoid = "AVOID"
)

// Urgency is the timing read on an otherwise eligible setup.
type Urgency struct {
	Level    string   `json:"urgency_level"`
	Score    float64  `json:"urgency_score"`
	Triggers []string `json:"triggers"`
	Warnings []string `json:"warnings"`
	WhyNow   string   `json:"why_now"`
}

// QueryResult answers "can I trade this ticker now, and why".
type QueryResult struct {
	Ticker      string             `json:"ticker"`
	Eligible    bool               `json:"eligible"`
	Reasons     []ReasonCode       `json:"reason_codes"`
	Opportunity *Opportunity       `json:"opportunity,omitempty"`
	Horizons    []HorizonBreakdown `json:"horizons,omitempty"`
	Urgency     *Urgency           `json:"urgency,omitempty"`
	StandDown   StandDown          `json:"stand_down"`
	Market      MarketContext      `json:"market"`
	Attention   AttentionContext   `json:"attention"`
	Calibration CalibrationContext `json:"calibration"`
	Timestamp   time.Time          `json:"timestamp"`
}

// HasReason reports whether code is among the result's reasons.
func (q QueryResult) HasReason(code ReasonCode) bool {
	for _, r := range q.Reasons {
		if r == code {
			return true
		}
	}
	return false
}

// VolatilityRegime describes the volatility reading for the brief.
type VolatilityRegime struct {
	Level       *float64 `json:"level"`
	Regime      string   `json:"regime"`
	Description string   `json:"description"`
}

// ModelConfidence describes the calibration health for the brief.
type ModelConfidence struct {
	Level            string  `json:"level"`
	ShrinkFactor     float64 `json:"shrink_factor"`
	ConfidencePct    float64 `json:"confidence_pct"`
	TotalEvaluations int     `json:"total_evaluations"`
}

// ActionGuidance is the suggested posture and sizing for the session.
type ActionGuidance struct {
	Action   string `json:"action"`
	Sizing   string `json:"sizing"`
	Guidance string `json:"guidance"`
}

// Brief is the human-readable session summary.
type Brief struct {
	DayType         string           `json:"day_type"`
	CautionLevel    string           `json:"caution_level"`
	Warnings        []string         `json:"warnings"`
	Volatility      VolatilityRegime `json:"volatility_regime"`
	ViableHorizons  []Horizon        `json:"viable_horizons"`
	ModelConfidence ModelConfidence  `json:"model_confidence"`
	Guidance        ActionGuidance   `json:"action_guidance"`
	Narrative       string           `json:"narrative"`
	MarketState     Light            `json:"market_state"`
	AttentionBucket Bucket           `json:"attention_bucket"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
