package attention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/services/features"
	applogger "SignalPipe/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Name is the component name used in logs, metrics and health.
const Name = "attention"

// Config tunes the engine.
type Config struct {
	Lookback     time.Duration
	FetchTimeout time.Duration
	Workers      int
}

// Engine scores market stability from index, sector and volatility proxies.
type Engine struct {
	cfg     Config
	candles domrepo.CandleStore
	store   domrepo.StateStore
	pub     domrepo.Publisher
	logs    domrepo.LogStore
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time

	// RunCycle is serialized by the cycle loop; churn needs no lock.
	churn ChurnTracker
}

// NewEngine creates the attention engine.
func NewEngine(
	cfg Config,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{
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

func (e *Engine) symbols() []string {
	out := make([]string, 0, len(IndexSymbols)+len(SectorSymbols)+1)
	out = append(out, IndexSymbols...)
	out = append(out, SectorSymbols...)
	return append(out, VolSymbol)
}

// fetch loads the latest lookback of 5m candles for every proxy. Symbols that
// fail or return fewer than two bars are left out.
func (e *Engine) fetch(ctx context.Context) Snapshot {
	bars := int(e.cfg.Lookback / (5 * time.Minute))
	snap := make(Snapshot)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, sym := range e.symbols() {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, e.cfg.FetchTimeout)
			defer cancel()
			candles, err := e.candles.GetLatestNCandles(fctx, sym, bars, domrepo.TF5m)
			if err != nil {
				e.metrics.RecordError(Name, "fetch")
				e.log.Warn("attention proxy fetch failed",
					applogger.String("symbol", sym),
					applogger.Error(err),
				)
				return nil
			}
			if len(candles) < 2 {
				return nil
			}
			mu.Lock()
			snap[sym] = candles
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snap
}

// Compute derives the attention state from a snapshot. It advances the churn
// history.
func (e *Engine) Compute(snap Snapshot, market *models.MarketState, now time.Time) models.AttentionState {
	var indexReturns []float64
	for _, sym := range IndexSymbols {
		if r, ok := snap.ret(sym, returnBars); ok {
			indexReturns = append(indexReturns, r)
		}
	}
	if len(indexReturns) < 2 {
		return models.AttentionState{
			StabilityScore:    50,
			Bucket:            models.Unstable,
			RiskState:         models.Neutral,
			CorrelationRegime: "Unknown",
			DominantSectors:   []string{},
			Components: models.AttentionComponents{
				LeadershipChurn:    50,
				IndexDispersion:    50,
				VolatilityPressure: 50,
				Correlation:        50,
			},
			Degraded:       true,
			DegradedReason: fmt.Sprintf("only %d of %d index proxies available", len(indexReturns), len(IndexSymbols)),
			Timestamp:      now.UTC(),
		}
	}

	leaders := topSectors(snap, 3)
	churn := 50.0
	if len(leaders) > 0 {
		churn = e.churn.Observe(leaders)
	}

	var volRet *float64
	if r, ok := snap.ret(VolSymbol, volReturnBars); ok {
		volRet = &r
	}

	comp := models.AttentionComponents{
		LeadershipChurn:    features.Round2(churn),
		IndexDispersion:    features.Round2(dispersionScore(indexReturns)),
		VolatilityPressure: features.Round2(volatilityPressure(market, volRet)),
	}
	corrScore, regime := correlation(snap)
	comp.Correlation = corrScore

	score := weightChurn*churn +
		weightDispersion*dispersionScore(indexReturns) +
		weightVolatility*volatilityPressure(market, volRet) +
		weightCorrelation*corrScore
	score = features.Round2(features.Clamp(score, 0, 100))

	return models.AttentionState{
		StabilityScore:    score,
		Bucket:            models.BucketFor(score),
		RiskState:         riskState(snap, corrScore, volRet),
		CorrelationRegime: regime,
		DominantSectors:   leaders,
		Components:        comp,
		Timestamp:         now.UTC(),
	}
}

// RunCycle computes and republishes the attention state.
func (e *Engine) RunCycle(ctx context.Context) (string, error) {
	market, err := e.store.GetMarketState(ctx)
	if err != nil {
		e.metrics.RecordError(Name, "store_read")
		e.log.Warn("read market state", applogger.Error(err))
	}

	st := e.Compute(e.fetch(ctx), market, e.now())
	e.metrics.SetAttention(st.StabilityScore, string(st.Bucket))
	if st.Degraded {
		e.log.Warn("attention degraded", applogger.String("reason", st.DegradedReason))
	}

	if err := e.store.SetAttentionState(ctx, st); err != nil {
		e.metrics.RecordError(Name, "store_write")
		e.log.Error("store attention state", applogger.Error(err))
	}
	if err := e.pub.PublishAttention(ctx, st); err != nil {
		e.metrics.RecordError(Name, "publish")
		e.log.Error("publish attention state", applogger.Error(err))
	}
	if err := e.logs.AppendAttention(ctx, st); err != nil {
		e.metrics.RecordError(Name, "log_write")
		e.log.Error("append attention log", applogger.Error(err))
	}

	return fmt.Sprintf("%s %.2f %s", st.Bucket, st.StabilityScore, st.RiskState), nil
}
