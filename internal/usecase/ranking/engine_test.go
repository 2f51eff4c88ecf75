package ranking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/usecase/usecasetest"
	applogger "SignalPipe/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine  *Engine
	candles *usecasetest.Candles
	pub     *usecasetest.Publisher
	logs    *usecasetest.LogStore
	store   domrepo.StateStore
	mr      *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, mr := usecasetest.NewStateStore(t)
	h := &harness{
		candles: usecasetest.NewCandles(),
		pub:     &usecasetest.Publisher{},
		logs:    &usecasetest.LogStore{},
		store:   store,
		mr:      mr,
	}
	h.engine = NewEngine(Config{}, h.candles, store, h.pub, h.logs, domrepo.NopMetrics{}, applogger.Nop())
	h.engine.now = func() time.Time { return now }
	return h
}

func (h *harness) put(sym string, step float64) {
	set := uptrend(sym, step)
	h.candles.Put(sym, domrepo.TF1m, set.M1)
	h.candles.Put(sym, domrepo.TF5m, set.M5)
	h.candles.Put(sym, domrepo.TF1d, set.D1)
}

func (h *harness) setState(t *testing.T, light models.Light, bucket models.Bucket, score float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.SetMarketState(ctx, models.MarketState{State: light, Reason: "Prime Window"}))
	require.NoError(t, h.store.SetAttentionState(ctx, models.AttentionState{StabilityScore: score, Bucket: bucket, RiskState: models.RiskOn}))
}

func candidates(hz models.Horizon, tickers ...string) models.CandidateList {
	l := models.CandidateList{Horizon: hz, MarketState: models.Green, UniverseSize: len(tickers)}
	for _, tk := range tickers {
		l.Candidates = append(l.Candidates, models.Candidate{Ticker: tk})
	}
	return l
}

func TestOnCandidatesRedOrMissingStatePublishesNothing(t *testing.T) {
	h := newHarness(t)
	h.put("AAPL", 0.05)
	ctx := context.Background()

	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.H2H, "AAPL")))

	require.NoError(t, h.store.SetMarketState(ctx, models.MarketState{State: models.Red, Reason: "Volatility Halt (VIX 31.20)"}))
	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.H2H, "AAPL")))

	assert.Empty(t, h.pub.Snapshot().Opportunities)
	assert.Empty(t, h.logs.Opportunities)
	assert.Zero(t, h.candles.Calls())
	assert.False(t, h.mr.Exists("test:opportunity_rank"))
	assert.Contains(t, h.engine.Health().LastSummary, "market RED")
}

func TestOnCandidatesAttentionGate(t *testing.T) {
	h := newHarness(t)
	h.put("AAPL", 0.05)
	ctx := context.Background()

	h.setState(t, models.Green, models.Chaotic, 25)
	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.HDAY, "AAPL")))
	assert.Empty(t, h.pub.Snapshot().Opportunities)

	h.setState(t, models.Green, models.Unstable, 55)
	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.HWEEK, "AAPL")))
	assert.Empty(t, h.pub.Snapshot().Opportunities)

	h.setState(t, models.Green, models.Chaotic, 25)
	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.H30, "AAPL")))
	assert.Len(t, h.pub.Snapshot().Opportunities, 1)
}

func TestOnCandidatesRanksPublishesAndPersists(t *testing.T) {
	h := newHarness(t)
	h.setState(t, models.Green, models.Stable, 85)
	ctx := context.Background()

	var tickers []string
	for i := 0; i < 12; i++ {
		sym := fmt.Sprintf("T%02d", i)
		h.put(sym, 0.01+0.01*float64(i))
		tickers = append(tickers, sym)
	}
	tickers = append(tickers, "THIN", "BROKEN")
	h.candles.Put("THIN", domrepo.TF1m, uptrend("THIN", 0.05).M1[:5])
	h.candles.Fail("BROKEN", errors.New("clickhouse timeout"))

	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.H2H, tickers...)))

	ranks := h.pub.Snapshot().Opportunities
	require.Len(t, ranks, 1)
	rank := ranks[0]
	assert.Equal(t, models.H2H, rank.Horizon)
	assert.Equal(t, 14, rank.TotalCandidates)
	require.Len(t, rank.Opportunities, 10)
	for i := 1; i < len(rank.Opportunities); i++ {
		assert.GreaterOrEqual(t, rank.Opportunities[i-1].OpportunityScore, rank.Opportunities[i].OpportunityScore)
	}
	for _, o := range rank.Opportunities {
		assert.Equal(t, 2.0, o.TargetATR)
		assert.Equal(t, 1.0, o.StopATR)
		assert.Equal(t, models.Stable, o.AttentionBucket)
		assert.LessOrEqual(t, o.Probability, o.RawConfidence)
	}

	// top five persisted and carry their log ids
	assert.Len(t, h.logs.Opportunities, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, int64(i+1), rank.Opportunities[i].ID)
	}
	assert.Zero(t, rank.Opportunities[5].ID)

	stored, err := h.store.GetOpportunityRank(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Opportunities, 10)
	assert.Equal(t, 60*time.Second, h.mr.TTL("test:opportunity_rank"))

	health := h.engine.Health()
	assert.Equal(t, int64(1), health.Cycles)
	assert.False(t, health.Degraded)
}

func TestOnCandidatesUsesStoredCalibration(t *testing.T) {
	h := newHarness(t)
	h.put("AAPL", 0.05)
	h.setState(t, models.Green, models.Stable, 85)
	ctx := context.Background()

	require.NoError(t, h.store.SetCalibration(ctx, models.CalibrationState{
		Buckets: map[string]models.BucketCalibration{
			"H2H_GREEN_STABLE": {ShrinkFactor: 0.6},
		},
		GlobalShrink: 0.9,
	}))
	require.NoError(t, h.engine.OnCandidates(ctx, candidates(models.H2H, "AAPL")))

	top, ok := h.pub.Snapshot().Opportunities[0].Top()
	require.True(t, ok)
	assert.Equal(t, 0.6, top.ShrinkFactor)
	assert.InDelta(t, top.RawConfidence*0.6, top.Probability, 1e-12)
	require.NotNil(t, h.engine.Calibration())

	require.NoError(t, h.engine.OnCalibration(ctx, models.CalibrationState{GlobalShrink: 0.4}))
	assert.Equal(t, 0.4, h.engine.Calibration().GlobalShrink)
}

func TestQueryRedIsHardVeto(t *testing.T) {
	h := newHarness(t)
	h.put("AAPL", 0.05)
	h.setState(t, models.Red, models.Stable, 85)

	res, err := h.engine.Query(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Ticker)
	assert.False(t, res.Eligible)
	assert.True(t, res.HasReason(models.ReasonMarketRed))
	assert.Equal(t, models.ActionDoNotTrade, res.StandDown.Action)
	assert.Equal(t, models.SeverityHard, res.StandDown.Severity)
	assert.Equal(t, "AAPL: DO NOT TRADE - Market is in RED state - all trading halted", res.StandDown.Summary)
	assert.Nil(t, res.Opportunity)
	assert.Nil(t, res.Urgency)

	// nothing written
	assert.Empty(t, h.pub.Snapshot().Opportunities)
	assert.Empty(t, h.logs.Opportunities)
}

func TestQueryNoData(t *testing.T) {
	h := newHarness(t)
	h.setState(t, models.Green, models.Stable, 85)

	res, err := h.engine.Query(context.Background(), "ZZZZ")
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	assert.Equal(t, []models.ReasonCode{models.ReasonNoData}, res.Reasons)
	assert.Equal(t, models.ActionDoNotTrade, res.StandDown.Action)
	assert.Contains(t, res.StandDown.Summary, "No recent price data available for ZZZZ")
}

func TestQueryEligibleScoresAllowedHorizons(t *testing.T) {
	h := newHarness(t)
	h.put("AAPL", 0.05)
	h.setState(t, models.Green, models.Stable, 85)

	res, err := h.engine.Query(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, res.Eligible, res.Reasons)
	require.NotNil(t, res.Opportunity)
	require.NotNil(t, res.Urgency)
	assert.Len(t, res.Horizons, 4)
	assert.True(t, res.HasReason(models.ReasonMarketGreen))
	assert.True(t, res.HasReason(models.ReasonAttentionStable))
	assert.Equal(t, res.Opportunity.RawConfidence*100 >= 60, res.HasReason(models.ReasonHighConfidence))
	for _, hb := range res.Horizons {
		assert.LessOrEqual(t, hb.Probability, res.Opportunity.Probability)
	}
}

func TestQueryReadsCalibrationWithoutCaching(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.put("AAPL", 0.05)
	h.setState(t, models.Green, models.Stable, 85)
	require.NoError(t, h.store.SetCalibration(ctx, models.CalibrationState{GlobalShrink: 0.6}))

	res, err := h.engine.Query(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0.6, res.Calibration.GlobalShrink)
	assert.Nil(t, h.engine.Calibration())

	_, err = h.engine.Brief(ctx)
	require.NoError(t, err)
	assert.Nil(t, h.engine.Calibration())
}

func TestQueryChaoticLimitsHorizons(t *testing.T) {
	h := newHarness(t)
	h.put("AAPL", 0.05)
	h.setState(t, models.Yellow, models.Chaotic, 20)

	res, err := h.engine.Query(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, res.Horizons, 1)
	assert.Equal(t, models.H30, res.Horizons[0].Horizon)
	assert.Equal(t, []models.ReasonCode{models.ReasonMarketYellow, models.ReasonAttentionChaotic}, res.Reasons[:2])
}

func TestQueryScoringFailedOnShortHistory(t *testing.T) {
	h := newHarness(t)
	set := uptrend("NEW", 0.05)
	h.candles.Put("NEW", domrepo.TF1m, set.M1)
	h.candles.Put("NEW", domrepo.TF5m, set.M5[len(set.M5)-8:])
	h.setState(t, models.Green, models.Stable, 85)

	res, err := h.engine.Query(context.Background(), "NEW")
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	assert.True(t, res.HasReason(models.ReasonScoringFailed))
	assert.Equal(t, models.ActionMonitor, res.StandDown.Action)
	assert.Equal(t, models.SeverityInfo, res.StandDown.Severity)
}

func TestStandDownLowConfidenceWaits(t *testing.T) {
	sd := standDown("AAPL", []models.ReasonCode{models.ReasonMarketYellow, models.ReasonLowConfidence, models.ReasonLowProbability}, false)
	assert.Equal(t, models.ActionWait, sd.Action)
	assert.Equal(t, models.SeveritySoft, sd.Severity)
	assert.Equal(t, "AAPL: WAIT - Market is in YELLOW state - reduced confidence, Confidence score is below threshold", sd.Summary)
}

func TestBrief(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// nothing published yet reads as RED
	b, err := h.engine.Brief(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NO_TRADE", b.DayType)
	assert.Equal(t, "EXTREME", b.CautionLevel)
	assert.Equal(t, "DO NOT TRADE", b.Guidance.Action)
	assert.Equal(t, "0%", b.Guidance.Sizing)
	assert.Equal(t, "UNKNOWN", b.Volatility.Regime)

	vix := 16.4
	require.NoError(t, h.store.SetMarketState(ctx, models.MarketState{State: models.Green, Reason: "Prime Window", VolatilityLevel: &vix, VolatilitySource: "VIX"}))
	require.NoError(t, h.store.SetAttentionState(ctx, models.AttentionState{StabilityScore: 82, Bucket: models.Stable, RiskState: models.RiskOn}))
	b, err = h.engine.Brief(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", b.DayType)
	assert.Equal(t, "NORMAL", b.Guidance.Action)
	assert.Equal(t, "100%", b.Guidance.Sizing)
	assert.Equal(t, "NORMAL", b.Volatility.Regime)
	assert.Equal(t, "NORMAL", b.ModelConfidence.Level)
	assert.Equal(t, models.Horizons, b.ViableHorizons)
	assert.Empty(t, b.Warnings)
	assert.Equal(t, "Conditions are favorable for trading. VIX is at 16.40. Market attention is STABLE (score: 82). Risk appetite is elevated.", b.Narrative)

	require.NoError(t, h.store.SetCalibration(ctx, models.CalibrationState{
		GlobalShrink:     0.6,
		DegradedHorizons: []models.Horizon{models.H30},
		GlobalStats:      models.CalibrationStats{TotalEvaluations: 140},
	}))
	b, err = h.engine.Brief(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SELECTIVE", b.Guidance.Action)
	assert.Equal(t, "50-75%", b.Guidance.Sizing)
	assert.Equal(t, "DEGRADED", b.ModelConfidence.Level)
	assert.Equal(t, 60.0, b.ModelConfidence.ConfidencePct)
	assert.Equal(t, 140, b.ModelConfidence.TotalEvaluations)
	assert.Equal(t, []string{"MODEL DEGRADED: Confidence reduced to 60%", "DEGRADED HORIZONS: H30"}, b.Warnings)
}

func TestBriefGuidanceOrder(t *testing.T) {
	assert.Equal(t, "SCALPS ONLY", guidance(models.Yellow, models.Chaotic, 1).Action)
	assert.Equal(t, "SELECTIVE", guidance(models.Yellow, models.Stable, 1).Action)
	assert.Equal(t, "NORMAL WITH CAUTION", guidance(models.Green, models.Unstable, 0.95).Action)
	assert.Equal(t, "CAUTION", dayType(models.Green, models.Chaotic))
	assert.Equal(t, "SELECTIVE", dayType(models.Green, models.Unstable))
	assert.Equal(t, "EXTREME", volatilityRegime(ptr(25.0)).Regime)
	assert.Equal(t, "ELEVATED", volatilityRegime(ptr(20.0)).Regime)
	assert.Equal(t, "LOW", volatilityRegime(ptr(11.0)).Regime)
	assert.Equal(t, "REDUCED", modelConfidence(nil, 0.75).Level)
}

func ptr(v float64) *float64 { return &v }
