package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/pkg/postgres"

	"github.com/jackc/pgx/v5"
)

// LogSchema is the idempotent DDL of the relational log.
func LogSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS regime_log (
			id BIGSERIAL PRIMARY KEY,
			state TEXT NOT NULL,
			reason TEXT NOT NULL,
			volatility_level DOUBLE PRECISION,
			volatility_source TEXT NOT NULL DEFAULT '',
			window_label TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attention_log (
			id BIGSERIAL PRIMARY KEY,
			score DOUBLE PRECISION NOT NULL,
			bucket TEXT NOT NULL,
			risk_state TEXT NOT NULL,
			correlation_regime TEXT NOT NULL,
			dominant_sectors TEXT[] NOT NULL DEFAULT '{}',
			components JSONB NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			degraded_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scanner_candidates (
			id BIGSERIAL PRIMARY KEY,
			horizon TEXT NOT NULL,
			ticker TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			atr DOUBLE PRECISION NOT NULL,
			atr_pct DOUBLE PRECISION NOT NULL,
			avg_volume DOUBLE PRECISION NOT NULL,
			rel_volume DOUBLE PRECISION NOT NULL,
			trend TEXT NOT NULL,
			scan_time TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS opportunity_log (
			id BIGSERIAL PRIMARY KEY,
			ticker TEXT NOT NULL,
			horizon TEXT NOT NULL,
			opportunity_score DOUBLE PRECISION NOT NULL,
			raw_confidence DOUBLE PRECISION NOT NULL,
			shrink_factor DOUBLE PRECISION NOT NULL,
			probability DOUBLE PRECISION NOT NULL,
			confidence_band TEXT NOT NULL,
			direction TEXT NOT NULL,
			target_atr DOUBLE PRECISION NOT NULL,
			stop_atr DOUBLE PRECISION NOT NULL,
			atr DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			market_state TEXT NOT NULL,
			attention_score DOUBLE PRECISION NOT NULL,
			attention_bucket TEXT NOT NULL,
			why JSONB NOT NULL DEFAULT '[]',
			issued_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS opportunity_log_issued_at_idx ON opportunity_log (issued_at)`,
		`CREATE TABLE IF NOT EXISTS execution_log (
			execution_id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			horizon TEXT NOT NULL,
			status TEXT NOT NULL,
			order_id TEXT,
			why JSONB NOT NULL DEFAULT '[]',
			probability DOUBLE PRECISION NOT NULL,
			market_state TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS performance_log (
			opportunity_id BIGINT PRIMARY KEY REFERENCES opportunity_log (id),
			ticker TEXT NOT NULL,
			horizon TEXT NOT NULL,
			outcome TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			atr DOUBLE PRECISION NOT NULL,
			target_price DOUBLE PRECISION NOT NULL,
			stop_price DOUBLE PRECISION NOT NULL,
			realized_mfe DOUBLE PRECISION NOT NULL,
			realized_mae DOUBLE PRECISION NOT NULL,
			mfe_atr DOUBLE PRECISION NOT NULL,
			mae_atr DOUBLE PRECISION NOT NULL,
			final_return DOUBLE PRECISION NOT NULL,
			time_to_resolution_seconds DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			evaluated_at TIMESTAMPTZ NOT NULL
		)`,
	}
}

// PGLogStore implements LogStore on Postgres.
type PGLogStore struct {
	db postgres.DB
}

func NewPGLogStore(db postgres.DB) *PGLogStore {
	return &PGLogStore{db: db}
}

var _ domrepo.LogStore = (*PGLogStore)(nil)

const insertRegime = `INSERT INTO regime_log
	(state, reason, volatility_level, volatility_source, window_label, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

func (s *PGLogStore) AppendRegime(ctx context.Context, m models.MarketState) error {
	_, err := s.db.Exec(ctx, insertRegime,
		string(m.State), m.Reason, m.VolatilityLevel, m.VolatilitySource, m.Window, m.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append regime_log: %w", err)
	}
	return nil
}

const insertAttention = `INSERT INTO attention_log
	(score, bucket, risk_state, correlation_regime, dominant_sectors, components, degraded, degraded_reason, created_at)
	VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)`

func (s *PGLogStore) AppendAttention(ctx context.Context, a models.AttentionState) error {
	components, err := json.Marshal(a.Components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	sectors := a.DominantSectors
	if sectors == nil {
		sectors = []string{}
	}
	_, err = s.db.Exec(ctx, insertAttention,
		a.StabilityScore, string(a.Bucket), string(a.RiskState), a.CorrelationRegime,
		sectors, string(components), a.Degraded, a.DegradedReason, a.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append attention_log: %w", err)
	}
	return nil
}

var candidateColumns = []string{"horizon", "ticker", "price", "atr", "atr_pct", "avg_volume", "rel_volume", "trend", "scan_time"}

func (s *PGLogStore) AppendCandidates(ctx context.Context, l models.CandidateList) error {
	if len(l.Candidates) == 0 {
		return nil
	}
	scan := l.ScanTime.UTC()
	rows := make([][]any, len(l.Candidates))
	for i, c := range l.Candidates {
		rows[i] = []any{string(l.Horizon), c.Ticker, c.Price, c.ATR, c.ATRPct, c.AvgVolume, c.RelVolume, string(c.Trend), scan}
	}
	if _, err := s.db.CopyFrom(ctx, pgx.Identifier{"scanner_candidates"}, candidateColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("append scanner_candidates: %w", err)
	}
	return nil
}

const insertOpportunity = `INSERT INTO opportunity_log
	(ticker, horizon, opportunity_score, raw_confidence, shrink_factor, probability, confidence_band,
	 direction, target_atr, stop_atr, atr, price, market_state, attention_score, attention_bucket, why, issued_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16::jsonb, $17)
	RETURNING id`

func (s *PGLogStore) InsertOpportunities(ctx context.Context, opps []models.Opportunity) ([]int64, error) {
	ids := make([]int64, 0, len(opps))
	for _, o := range opps {
		why, err := json.Marshal(nonNil(o.Why))
		if err != nil {
			return ids, fmt.Errorf("encode why: %w", err)
		}
		var id int64
		err = s.db.QueryRow(ctx, insertOpportunity,
			o.Ticker, string(o.Horizon), o.OpportunityScore, o.RawConfidence, o.ShrinkFactor, o.Probability,
			string(o.ConfidenceBand), string(o.Direction), o.TargetATR, o.StopATR, o.ATR, o.Price,
			string(o.MarketState), o.AttentionStabilityScore, string(o.AttentionBucket), string(why), o.IssuedAt.UTC(),
		).Scan(&id)
		if err != nil {
			return ids, fmt.Errorf("insert opportunity_log %s: %w", o.Ticker, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

const insertExecution = `INSERT INTO execution_log
	(execution_id, ticker, horizon, status, order_id, why, probability, market_state, created_at)
	VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
	ON CONFLICT (execution_id) DO NOTHING`

func (s *PGLogStore) AppendExecution(ctx context.Context, e models.ExecutionEvent) error {
	why, err := json.Marshal(nonNil(e.Why))
	if err != nil {
		return fmt.Errorf("encode why: %w", err)
	}
	_, err = s.db.Exec(ctx, insertExecution,
		e.ExecutionID, e.Ticker, string(e.Horizon), string(e.Status), e.OrderID, string(why),
		e.Probability, string(e.MarketState), e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("append execution_log: %w", err)
	}
	return nil
}

const selectUnevaluated = `SELECT o.id, o.ticker, o.horizon, o.opportunity_score, o.probability,
	o.target_atr, o.stop_atr, o.market_state, o.attention_bucket, o.issued_at
	FROM opportunity_log o
	LEFT JOIN performance_log p ON p.opportunity_id = o.id
	WHERE p.opportunity_id IS NULL AND o.issued_at >= $1 AND o.issued_at < $2
	ORDER BY o.issued_at ASC`

func (s *PGLogStore) UnevaluatedOpportunities(ctx context.Context, from, to time.Time) ([]models.OpportunityRecord, error) {
	rows, err := s.db.Query(ctx, selectUnevaluated, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query unevaluated: %w", err)
	}
	defer rows.Close()

	var out []models.OpportunityRecord
	for rows.Next() {
		var r models.OpportunityRecord
		var horizon, state, bucket string
		if err := rows.Scan(&r.ID, &r.Ticker, &horizon, &r.Score, &r.Probability,
			&r.TargetATR, &r.StopATR, &state, &bucket, &r.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		r.Horizon = models.Horizon(horizon)
		r.MarketState = models.Light(state)
		r.AttentionBucket = models.Bucket(bucket)
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertPerformance = `INSERT INTO performance_log
	(opportunity_id, ticker, horizon, outcome, entry_price, atr, target_price, stop_price,
	 realized_mfe, realized_mae, mfe_atr, mae_atr, final_return, time_to_resolution_seconds, reason, evaluated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (opportunity_id) DO NOTHING`

func (s *PGLogStore) InsertPerformance(ctx context.Context, r models.PerformanceResult) error {
	_, err := s.db.Exec(ctx, insertPerformance,
		r.OpportunityID, r.Ticker, string(r.Horizon), string(r.Outcome), r.EntryPrice, r.ATR,
		r.TargetPrice, r.StopPrice, r.RealizedMFE, r.RealizedMAE, r.MFEATR, r.MAEATR, r.FinalReturn,
		r.TimeToResolution.Seconds(), r.Reason, r.EvaluationTime.UTC())
	if err != nil {
		return fmt.Errorf("insert performance_log %d: %w", r.OpportunityID, err)
	}
	return nil
}

// NO_DATA rows carry no information about the forecast and are skipped.
const selectSamples = `SELECT o.horizon, o.market_state, o.attention_bucket, o.probability, p.outcome, p.final_return
	FROM performance_log p
	JOIN opportunity_log o ON o.id = p.opportunity_id
	WHERE o.issued_at >= $1 AND p.outcome <> 'NO_DATA'`

func (s *PGLogStore) CalibrationSamples(ctx context.Context, since time.Time) ([]models.CalibrationSample, error) {
	rows, err := s.db.Query(ctx, selectSamples, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query calibration samples: %w", err)
	}
	defer rows.Close()

	var out []models.CalibrationSample
	for rows.Next() {
		var c models.CalibrationSample
		var horizon, state, bucket, outcome string
		if err := rows.Scan(&horizon, &state, &bucket, &c.Probability, &outcome, &c.FinalReturn); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		c.Horizon = models.Horizon(horizon)
		c.MarketState = models.Light(state)
		c.AttentionBucket = models.Bucket(bucket)
		c.Outcome = models.Outcome(outcome)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PGLogStore) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
