package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/middleware"
	"SignalPipe/internal/services/features"
	applogger "SignalPipe/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Name is the component name used in logs, metrics and health.
const Name = "ranking"

// Candle history read per candidate.
const (
	bars1m = 100
	bars5m = 50
	bars1d = 30
)

// Attention used when none has been published yet.
const (
	defaultAttentionScore = 50.0
	defaultAttention      = models.Unstable
)

// Config tunes the ranking engine.
type Config struct {
	TopN         int
	PersistTopN  int
	RankTTL      time.Duration
	Workers      int
	FetchTimeout time.Duration
}

// Engine scores scanner candidates into ranked opportunities. It is driven
// by candidate and calibration notifications; the embedded tracker reports
// its health.
type Engine struct {
	*middleware.Tracker

	cfg     Config
	candles domrepo.CandleStore
	store   domrepo.StateStore
	pub     domrepo.Publisher
	logs    domrepo.LogStore
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time

	mu          sync.RWMutex
	calibration *models.CalibrationState
}

// NewEngine creates the ranking engine.
func NewEngine(
	cfg Config,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.PersistTopN <= 0 {
		cfg.PersistTopN = 5
	}
	if cfg.RankTTL <= 0 {
		cfg.RankTTL = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Engine{
		Tracker: middleware.NewTracker(Name, metrics, l),
		cfg:     cfg,
		candles: candles,
		store:   store,
		pub:     pub,
		logs:    logs,
		metrics: metrics,
		log:     l,
		now:     time.Now,
	}
}

// OnCalibration replaces the cached calibration state.
func (e *Engine) OnCalibration(_ context.Context, s models.CalibrationState) error {
	e.mu.Lock()
	e.calibration = &s
	e.mu.Unlock()
	e.log.Info("calibration updated",
		applogger.Float64("global_shrink", s.GlobalShrink),
		applogger.Int("buckets", len(s.Buckets)),
	)
	return nil
}

// Calibration returns the cached calibration state, nil before the first
// load.
func (e *Engine) Calibration() *models.CalibrationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calibration
}

func (e *Engine) reloadCalibration(ctx context.Context) *models.CalibrationState {
	cal, fresh := e.storedCalibration(ctx)
	if fresh {
		e.mu.Lock()
		e.calibration = cal
		e.mu.Unlock()
	}
	return cal
}

// storedCalibration reads the calibration from the store without touching
// the cache. fresh is false when it fell back to the cached value.
func (e *Engine) storedCalibration(ctx context.Context) (cal *models.CalibrationState, fresh bool) {
	cal, err := e.store.GetCalibration(ctx)
	if err != nil {
		e.metrics.RecordError(Name, "store_read")
		e.log.Warn("read calibration", applogger.Error(err))
		return e.Calibration(), false
	}
	if cal == nil {
		return e.Calibration(), false
	}
	return cal, true
}

// OnCandidates ranks one candidate list.
func (e *Engine) OnCandidates(ctx context.Context, list models.CandidateList) error {
	start := time.Now()
	summary, err := e.handle(ctx, list)
	e.Record(start, summary, err)
	return err
}

func (e *Engine) handle(ctx context.Context, list models.CandidateList) (string, error) {
	market, err := e.store.GetMarketState(ctx)
	if err != nil {
		e.metrics.RecordError(Name, "store_read")
		return "", fmt.Errorf("read market state: %w", err)
	}
	if market == nil || market.State == models.Red {
		return fmt.Sprintf("%s dropped: market RED", list.Horizon), nil
	}

	attention := e.attention(ctx)
	if !models.HorizonAllowed(attention.Bucket, list.Horizon) {
		return fmt.Sprintf("%s dropped: gated by %s attention", list.Horizon, attention.Bucket), nil
	}

	cal := e.reloadCalibration(ctx)
	rank := e.Rank(ctx, list, market.State, attention, cal)
	if len(rank.Opportunities) == 0 {
		return fmt.Sprintf("%s: no opportunities from %d candidates", list.Horizon, len(list.Candidates)), nil
	}
	e.publish(ctx, &rank)

	top, _ := rank.Top()
	return fmt.Sprintf("%s: %d ranked, top %s %.2f p=%.4f",
		list.Horizon, len(rank.Opportunities), top.Ticker, top.OpportunityScore, top.Probability), nil
}

// attention reads the attention state, defaulting to UNSTABLE at 50.
func (e *Engine) attention(ctx context.Context) models.AttentionState {
	a, err := e.store.GetAttentionState(ctx)
	if err != nil {
		e.metrics.RecordError(Name, "store_read")
		e.log.Warn("read attention state", applogger.Error(err))
	}
	if a == nil {
		return models.AttentionState{
			StabilityScore: defaultAttentionScore,
			Bucket:         defaultAttention,
			RiskState:      models.Neutral,
			Degraded:       true,
			DegradedReason: "attention state unavailable",
		}
	}
	return *a
}

// Rank scores every candidate with a bounded worker pool and keeps the top N
// by opportunity score. A candidate that fails to score is skipped.
func (e *Engine) Rank(
	ctx context.Context,
	list models.CandidateList,
	state models.Light,
	attention models.AttentionState,
	cal *models.CalibrationState,
) models.OpportunityRank {
	now := e.now().UTC()
	results := make([]*models.Opportunity, len(list.Candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, c := range list.Candidates {
		g.Go(func() error {
			set, err := e.fetch(gctx, c.Ticker, list.Horizon)
			if err != nil {
				e.metrics.RecordError(Name, "fetch")
				e.log.Warn("ranking fetch failed", applogger.String("ticker", c.Ticker), applogger.Error(err))
				return nil
			}
			opp, err := Build(c.Ticker, list.Horizon, set, state, attention, cal, now)
			if err != nil {
				if !errors.Is(err, features.ErrInsufficientCandles) {
					e.metrics.RecordError(Name, "score")
				}
				e.log.Debug("candidate not scored", applogger.String("ticker", c.Ticker), applogger.Error(err))
				return nil
			}
			results[i] = &opp
			return nil
		})
	}
	_ = g.Wait()

	opps := make([]models.Opportunity, 0, len(results))
	for _, o := range results {
		if o != nil {
			opps = append(opps, *o)
		}
	}
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].OpportunityScore > opps[j].OpportunityScore
	})
	if len(opps) > e.cfg.TopN {
		opps = opps[:e.cfg.TopN]
	}
	return models.OpportunityRank{
		Horizon:         list.Horizon,
		Opportunities:   opps,
		RankTime:        now,
		TotalCandidates: len(list.Candidates),
	}
}

// publish persists the top slice first so published opportunities carry
// their log ids, then writes the keyed copy and notifies.
func (e *Engine) publish(ctx context.Context, rank *models.OpportunityRank) {
	n := min(e.cfg.PersistTopN, len(rank.Opportunities))
	ids, err := e.logs.InsertOpportunities(ctx, rank.Opportunities[:n])
	if err != nil {
		e.metrics.RecordError(Name, "log_write")
		e.log.Error("write opportunity log", applogger.Error(err))
	}
	for i := 0; i < len(ids) && i < n; i++ {
		rank.Opportunities[i].ID = ids[i]
	}

	e.metrics.SetOpportunities(len(rank.Opportunities))
	if err := e.store.SetOpportunityRank(ctx, *rank, e.cfg.RankTTL); err != nil {
		e.metrics.RecordError(Name, "store_write")
		e.log.Error("store opportunity rank", applogger.Error(err))
	}
	if err := e.pub.PublishOpportunities(ctx, *rank); err != nil {
		e.metrics.RecordError(Name, "publish")
		e.log.Error("publish opportunity rank", applogger.Error(err))
	}
}

// CandleSet is the history one ticker is scored from.
type CandleSet struct {
	M1 []models.Candle
	M5 []models.Candle
	// D1 is only read for swing horizons.
	D1 []models.Candle
}

func (e *Engine) fetch(ctx context.Context, ticker string, h models.Horizon) (CandleSet, error) {
	spec, err := h.Spec()
	if err != nil {
		return CandleSet{}, err
	}
	return e.fetchSet(ctx, ticker, spec.Swing)
}

func (e *Engine) fetchSet(ctx context.Context, ticker string, daily bool) (CandleSet, error) {
	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	var set CandleSet
	g, gctx := errgroup.WithContext(fctx)
	g.Go(func() (err error) {
		set.M1, err = e.candles.GetLatestNCandles(gctx, ticker, bars1m, domrepo.TF1m)
		return err
	})
	g.Go(func() (err error) {
		set.M5, err = e.candles.GetLatestNCandles(gctx, ticker, bars5m, domrepo.TF5m)
		return err
	})
	if daily {
		g.Go(func() error {
			d1, err := e.candles.GetLatestNCandles(gctx, ticker, bars1d, domrepo.TF1d)
			if err != nil {
				// daily history only adds context
				e.log.Debug("daily candles unavailable", applogger.String("ticker", ticker), applogger.Error(err))
				return nil
			}
			set.D1 = d1
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CandleSet{}, err
	}
	return set, nil
}

// Build scores one ticker for a horizon. Probability is the raw confidence
// scaled by the calibration shrink of the (horizon, state, bucket) cell and
// never exceeds it.
func Build(
	ticker string,
	h models.Horizon,
	set CandleSet,
	state models.Light,
	attention models.AttentionState,
	cal *models.CalibrationState,
	now time.Time,
) (models.Opportunity, error) {
	spec, err := h.Spec()
	if err != nil {
		return models.Opportunity{}, err
	}
	var daily []models.Candle
	if spec.Swing {
		daily = set.D1
	}
	f, err := Extract(set.M1, set.M5, daily)
	if err != nil {
		return models.Opportunity{}, err
	}

	score, breakdown, why := Score(f, state)
	dir := Direction(f)
	raw := RawConfidence(score)
	shrink := cal.ShrinkFor(h, state, attention.Bucket)
	prob := features.Clamp(raw*shrink, 0, raw)
	band := models.BandFor(score)
	target, stop := h.ATRMultiples()

	why = append(why, fmt.Sprintf("Direction: %s (%.0f%% - %s)", dir.Direction, dir.Confidence, dir.Reason))
	if f.Daily {
		if f.Aligned1d {
			why = append(why, "Daily trend aligned")
		} else {
			why = append(why, "Daily trend not aligned")
		}
	}
	why = append(why, fmt.Sprintf("Confidence: %s (HEURISTIC)", band))
	if shrink < 1 {
		why = append(why, fmt.Sprintf("Calibration shrink: %.2f", shrink))
	}

	return models.Opportunity{
		Ticker:                  ticker,
		Horizon:                 h,
		OpportunityScore:        score,
		Breakdown:               breakdown,
		RawConfidence:           raw,
		ShrinkFactor:            shrink,
		Probability:             prob,
		ConfidencePct:           features.Round2(raw * 100),
		ConfidenceBand:          band,
		Direction:               dir.Direction,
		DirectionConfidence:     dir.Confidence,
		TargetATR:               target,
		StopATR:                 stop,
		ATR:                     f.ATR,
		Price:                   f.Price,
		MarketState:             state,
		AttentionStabilityScore: attention.StabilityScore,
		AttentionBucket:         attention.Bucket,
		Why:                     why,
		IssuedAt:                now,
	}, nil
}
