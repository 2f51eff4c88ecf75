package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	cycles          *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	marketState     *prometheus.GaugeVec
	attentionScore  prometheus.Gauge
	candidates      *prometheus.GaugeVec
	opportunities   prometheus.Gauge
	execDecisions   *prometheus.CounterVec
	truthOutcomes   *prometheus.CounterVec
	shrinkFactor    *prometheus.GaugeVec
	brierScore      prometheus.Gauge
	marketStates    []string
	attentionStates []string
	stability       *prometheus.GaugeVec
}

// New creates a Prometheus recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpipe_cycles_total",
				Help: "Completed engine cycles by component and result",
			},
			[]string{"component", "result"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalpipe_cycle_duration_seconds",
				Help:    "Duration of one engine cycle",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpipe_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"component", "kind"},
		),
		marketState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalpipe_market_state",
				Help: "1 for the current market light, 0 otherwise",
			},
			[]string{"state"},
		),
		attentionScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpipe_attention_score",
			Help: "Latest attention stability score (0-100)",
		}),
		stability: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalpipe_attention_state",
				Help: "1 for the current attention regime, 0 otherwise",
			},
			[]string{"state"},
		),
		candidates: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalpipe_active_candidates",
				Help: "Candidates published in the last scan",
			},
			[]string{"horizon"},
		),
		opportunities: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpipe_ranked_opportunities",
			Help: "Opportunities in the latest ranking",
		}),
		execDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpipe_execution_decisions_total",
				Help: "Execution gateway outcomes by reason",
			},
			[]string{"outcome", "reason"},
		),
		truthOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalpipe_truth_outcomes_total",
				Help: "Evaluated opportunity outcomes",
			},
			[]string{"horizon", "outcome"},
		),
		shrinkFactor: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalpipe_calibration_shrink",
				Help: "Confidence shrink factor per horizon and regime",
			},
			[]string{"horizon", "regime"},
		),
		brierScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalpipe_calibration_brier",
			Help: "Brier score over the calibration window",
		}),
		marketStates:    []string{"GREEN", "YELLOW", "RED"},
		attentionStates: []string{"STABLE", "UNSTABLE", "CHAOTIC"},
	}
}

// CycleCompleted records one engine cycle.
func (r *Recorder) CycleCompleted(component string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cycles.WithLabelValues(component, result).Inc()
	r.cycleDuration.WithLabelValues(component).Observe(d.Seconds())
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(component, kind string) {
	r.errorsTotal.WithLabelValues(component, kind).Inc()
}

// SetMarketState flags the current light.
func (r *Recorder) SetMarketState(state string) {
	for _, s := range r.marketStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.marketState.WithLabelValues(s).Set(v)
	}
}

// SetAttention records the attention score and regime.
func (r *Recorder) SetAttention(score float64, state string) {
	r.attentionScore.Set(score)
	for _, s := range r.attentionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.stability.WithLabelValues(s).Set(v)
	}
}

// SetCandidates records how many candidates a horizon published.
func (r *Recorder) SetCandidates(horizon string, n int) {
	r.candidates.WithLabelValues(horizon).Set(float64(n))
}

// SetOpportunities records the ranked list size.
func (r *Recorder) SetOpportunities(n int) {
	r.opportunities.Set(float64(n))
}

// ExecutionDecision counts a gateway outcome (executed, skipped, rejected).
func (r *Recorder) ExecutionDecision(outcome, reason string) {
	r.execDecisions.WithLabelValues(outcome, reason).Inc()
}

// TruthOutcome counts an evaluated opportunity.
func (r *Recorder) TruthOutcome(horizon, outcome string) {
	r.truthOutcomes.WithLabelValues(horizon, outcome).Inc()
}

// SetShrink records a calibration shrink factor.
func (r *Recorder) SetShrink(horizon, regime string, v float64) {
	r.shrinkFactor.WithLabelValues(horizon, regime).Set(v)
}

// SetBrier records the calibration Brier score.
func (r *Recorder) SetBrier(v float64) {
	r.brierScore.Set(v)
}
