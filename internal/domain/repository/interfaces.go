package repository

import (
	"context"
	"time"

	"SignalPipe/internal/domain/models"
)

// StateStore is the shared keyed store between components. Getters return
// (nil, nil) when the key is absent.
type StateStore interface {
	GetMarketState(ctx context.Context) (*models.MarketState, error)
	SetMarketState(ctx context.Context, s models.MarketState) error
	GetAttentionState(ctx context.Context) (*models.AttentionState, error)
	SetAttentionState(ctx context.Context, s models.AttentionState) error
	GetCalibration(ctx context.Context) (*models.CalibrationState, error)
	SetCalibration(ctx context.Context, s models.CalibrationState) error

	SetCandidates(ctx context.Context, l models.CandidateList, ttl time.Duration) error
	GetCandidates(ctx context.Context, h models.Horizon) (*models.CandidateList, error)
	SetOpportunityRank(ctx context.Context, r models.OpportunityRank, ttl time.Duration) error
	GetOpportunityRank(ctx context.Context) (*models.OpportunityRank, error)
	SetLastScanTime(ctx context.Context, t time.Time) error
	GetLastScanTime(ctx context.Context) (*time.Time, error)

	ExecutionEnabled(ctx context.Context) (bool, error)
	SetExecutionEnabled(ctx context.Context, enabled bool) error
	// ClaimExecution is a set-if-absent on the execution id; false means the
	// id was already seen.
	ClaimExecution(ctx context.Context, executionID string, ttl time.Duration) (bool, error)
	// ClaimCooldown is a set-if-absent on the ticker cooldown; false means the
	// ticker is cooling down.
	ClaimCooldown(ctx context.Context, ticker string, ttl time.Duration) (bool, error)
	ReleaseCooldown(ctx context.Context, ticker string) error
	SetLastTrade(ctx context.Context, ticker string, t time.Time) error
	// Positions opened by the gateway; they outlive a process restart.
	SetPosition(ctx context.Context, p models.Position) error
	GetPosition(ctx context.Context, ticker string) (*models.Position, error)
}

// Publisher emits change notifications on the bus.
type Publisher interface {
	PublishMarketState(ctx context.Context, c models.MarketStateChange) error
	PublishAttention(ctx context.Context, s models.AttentionState) error
	PublishCandidates(ctx context.Context, l models.CandidateList) error
	PublishOpportunities(ctx context.Context, r models.OpportunityRank) error
	PublishExecution(ctx context.Context, e models.ExecutionEvent) error
	PublishCalibration(ctx context.Context, s models.CalibrationState) error
	Close() error
}

// LogStore is the append-only relational record of every stage.
type LogStore interface {
	AppendRegime(ctx context.Context, s models.MarketState) error
	AppendAttention(ctx context.Context, s models.AttentionState) error
	AppendCandidates(ctx context.Context, l models.CandidateList) error
	// InsertOpportunities stores opportunities and returns their ids in order.
	InsertOpportunities(ctx context.Context, opps []models.Opportunity) ([]int64, error)
	AppendExecution(ctx context.Context, e models.ExecutionEvent) error
	// UnevaluatedOpportunities returns opportunities issued in [from, to)
	// with no performance row.
	UnevaluatedOpportunities(ctx context.Context, from, to time.Time) ([]models.OpportunityRecord, error)
	InsertPerformance(ctx context.Context, r models.PerformanceResult) error
	CalibrationSamples(ctx context.Context, since time.Time) ([]models.CalibrationSample, error)
	Health(ctx context.Context) error
}

// VolatilityReading is one volatility observation with the bands of its source.
type VolatilityReading struct {
	Value    float64
	Source   string
	Elevated float64
	High     float64
	AsOf     time.Time
}

// Band classifies the reading as normal, elevated or high.
func (r VolatilityReading) Band() string {
	switch {
	case r.Value >= r.High:
		return "high"
	case r.Value >= r.Elevated:
		return "elevated"
	default:
		return "normal"
	}
}

// VolatilitySource returns the latest volatility reading. Sources return
// ErrNoData when they have nothing current.
type VolatilitySource interface {
	Name() string
	Latest(ctx context.Context) (VolatilityReading, error)
}

// Broker places orders. Only paper implementations exist.
type Broker interface {
	SubmitOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
	HasOpenPosition(ctx context.Context, ticker string) (bool, error)
	Positions(ctx context.Context) ([]models.Position, error)
}

// Metrics records pipeline telemetry.
type Metrics interface {
	CycleCompleted(component string, d time.Duration, err error)
	RecordError(component, kind string)
	SetMarketState(state string)
	SetAttention(score float64, state string)
	SetCandidates(horizon string, n int)
	SetOpportunities(n int)
	ExecutionDecision(outcome, reason string)
	TruthOutcome(horizon, outcome string)
	SetShrink(horizon, regime string, v float64)
	SetBrier(v float64)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) CycleCompleted(string, time.Duration, error) {}
func (NopMetrics) RecordError(string, string)                  {}
func (NopMetrics) SetMarketState(string)                       {}
func (NopMetrics) SetAttention(float64, string)                {}
func (NopMetrics) SetCandidates(string, int)                   {}
func (NopMetrics) SetOpportunities(int)                        {}
func (NopMetrics) ExecutionDecision(string, string)            {}
func (NopMetrics) TruthOutcome(string, string)                 {}
func (NopMetrics) SetShrink(string, string, float64)           {}
func (NopMetrics) SetBrier(float64)                            {}
