package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogStore(t *testing.T) (*PGLogStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPGLogStore(mock), mock
}

func TestAppendExecutionIgnoresDuplicates(t *testing.T) {
	s, mock := newLogStore(t)
	ts := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	id := models.ExecutionID("AAPL", models.H30, ts)

	mock.ExpectExec(`INSERT INTO execution_log .* ON CONFLICT \(execution_id\) DO NOTHING`).
		WithArgs(id, "AAPL", "H30", "SKIPPED", (*string)(nil), `["Duplicate execution_id"]`, 0.93, "GREEN", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.AppendExecution(context.Background(), models.ExecutionEvent{
		ExecutionID: id,
		Ticker:      "AAPL",
		Horizon:     models.H30,
		Status:      models.StatusSkipped,
		Why:         []string{"Duplicate execution_id"},
		Probability: 0.93,
		MarketState: models.Green,
		Timestamp:   ts,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOpportunitiesReturnsIDs(t *testing.T) {
	s, mock := newLogStore(t)
	issued := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	opps := []models.Opportunity{
		{
			Ticker: "AAPL", Horizon: models.H2H, OpportunityScore: 82, RawConfidence: 0.7, ShrinkFactor: 0.5,
			Probability: 0.61, ConfidenceBand: models.BandHigh, Direction: models.Long,
			TargetATR: 1.5, StopATR: 0.75, ATR: 2.1, Price: 189.5, MarketState: models.Green,
			AttentionStabilityScore: 74, AttentionBucket: models.Stable,
			Why: []string{"Momentum: 70.0 (EMA alignment)"}, IssuedAt: issued,
		},
		{Ticker: "MSFT", Horizon: models.H2H, IssuedAt: issued},
	}

	mock.ExpectQuery(`INSERT INTO opportunity_log`).
		WithArgs("AAPL", "H2H", 82.0, 0.7, 0.5, 0.61, "HIGH", "LONG", 1.5, 0.75, 2.1, 189.5,
			"GREEN", 74.0, "STABLE", `["Momentum: 70.0 (EMA alignment)"]`, issued).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(41)))
	mock.ExpectQuery(`INSERT INTO opportunity_log`).
		WithArgs("MSFT", "H2H", 0.0, 0.0, 0.0, 0.0, "", "", 0.0, 0.0, 0.0, 0.0,
			"", 0.0, "", "[]", issued).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(42)))

	ids, err := s.InsertOpportunities(context.Background(), opps)
	require.NoError(t, err)
	assert.Equal(t, []int64{41, 42}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendCandidatesUsesCopy(t *testing.T) {
	s, mock := newLogStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"scanner_candidates"}, candidateColumns).WillReturnResult(2)

	err := s.AppendCandidates(context.Background(), models.CandidateList{
		Horizon:    models.H30,
		Candidates: []models.Candidate{{Ticker: "AAPL"}, {Ticker: "TSLA"}},
		ScanTime:   time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	// empty lists never touch the database
	require.NoError(t, s.AppendCandidates(context.Background(), models.CandidateList{Horizon: models.H30}))
}

func TestUnevaluatedOpportunitiesLeftJoin(t *testing.T) {
	s, mock := newLogStore(t)
	from := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)
	issued := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`LEFT JOIN performance_log p ON p.opportunity_id = o.id\s+WHERE p.opportunity_id IS NULL`).
		WithArgs(from, to).
		WillReturnRows(mock.NewRows([]string{"id", "ticker", "horizon", "opportunity_score", "probability",
			"target_atr", "stop_atr", "market_state", "attention_bucket", "issued_at"}).
			AddRow(int64(7), "AAPL", "H30", 82.0, 0.61, 1.5, 0.75, "GREEN", "STABLE", issued))

	recs, err := s.UnevaluatedOpportunities(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(7), recs[0].ID)
	assert.Equal(t, models.H30, recs[0].Horizon)
	assert.Equal(t, models.Stable, recs[0].AttentionBucket)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCalibrationSamplesQueryError(t *testing.T) {
	s, mock := newLogStore(t)
	since := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM performance_log p`).
		WithArgs(since).
		WillReturnError(errors.New("connection reset"))

	_, err := s.CalibrationSamples(context.Background(), since)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPerformanceIsWriteOnce(t *testing.T) {
	s, mock := newLogStore(t)
	evaluated := time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC)
	mock.ExpectExec(`ON CONFLICT \(opportunity_id\) DO NOTHING`).
		WithArgs(int64(7), "AAPL", "H30", "PASS", 189.5, 2.0, 192.5, 188.0,
			3.5, 0.5, 1.75, 0.25, 0.0158, 600.0, "target hit", evaluated).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.InsertPerformance(context.Background(), models.PerformanceResult{
		OpportunityID:    7,
		Ticker:           "AAPL",
		Horizon:          models.H30,
		Outcome:          models.OutcomePass,
		EntryPrice:       189.5,
		ATR:              2.0,
		TargetPrice:      192.5,
		StopPrice:        188.0,
		RealizedMFE:      3.5,
		RealizedMAE:      0.5,
		MFEATR:           1.75,
		MAEATR:           0.25,
		FinalReturn:      0.0158,
		TimeToResolution: 10 * time.Minute,
		Reason:           "target hit",
		EvaluationTime:   evaluated,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
