package truthtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/service/calendar"
	"SignalPipe/internal/services/features"
	applogger "SignalPipe/pkg/logger"
	"SignalPipe/pkg/util"

	"golang.org/x/sync/errgroup"
)

// Name is the component name used in logs, metrics and health.
const Name = "truthtest"

// Config tunes the truth test.
type Config struct {
	// RunAt is the exchange-local HH:MM of the daily run.
	RunAt          string
	WindowDays     int
	LookbackDays   int
	EntryTolerance time.Duration
	FetchTimeout   time.Duration
	Workers        int
}

// RunStats summarizes one evaluation pass.
type RunStats struct {
	RunTime   time.Time `json:"run_time"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Backfill  bool      `json:"backfill"`
	Total     int       `json:"total_opportunities"`
	Pending   int       `json:"pending"`
	Evaluated int       `json:"evaluated"`
	Pass      int       `json:"pass"`
	Fail      int       `json:"fail"`
	Expired   int       `json:"expired"`
	NoData    int       `json:"no_data"`
	Errors    int       `json:"errors"`
}

func (s *RunStats) count(o models.Outcome) {
	s.Evaluated++
	switch o {
	case models.OutcomePass:
		s.Pass++
	case models.OutcomeFail:
		s.Fail++
	case models.OutcomeExpired:
		s.Expired++
	case models.OutcomeNoData:
		s.NoData++
	}
}

func (s RunStats) String() string {
	return fmt.Sprintf("evaluated %d/%d: %d PASS %d FAIL %d EXPIRED %d NO_DATA %d errors",
		s.Evaluated, s.Total, s.Pass, s.Fail, s.Expired, s.NoData, s.Errors)
}

// Runner grades elapsed opportunities and rebuilds the calibration state. It
// is a Cycle: each tick checks whether the daily run is due.
type Runner struct {
	cfg     Config
	runAt   time.Duration
	cal     *calendar.NYSE
	candles domrepo.CandleStore
	store   domrepo.StateStore
	pub     domrepo.Publisher
	logs    domrepo.LogStore
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time

	// serializes scheduled and backfill runs
	runMu sync.Mutex

	mu      sync.RWMutex
	lastDay string
	last    *RunStats
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates the truth-test runner.
func NewRunner(
	cfg Config,
	cal *calendar.NYSE,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	opts ...Option,
) (*Runner, error) {
	if cfg.RunAt == "" {
		cfg.RunAt = "16:05"
	}
	at, err := time.Parse("15:04", cfg.RunAt)
	if err != nil {
		return nil, fmt.Errorf("truth test run_at %q: %w", cfg.RunAt, err)
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.EntryTolerance <= 0 {
		cfg.EntryTolerance = 2 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	r := &Runner{
		cfg:     cfg,
		runAt:   time.Duration(at.Hour())*time.Hour + time.Duration(at.Minute())*time.Minute,
		cal:     cal,
		candles: candles,
		store:   store,
		pub:     pub,
		logs:    logs,
		metrics: metrics,
		log:     l,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Due reports whether the daily run should fire at t: a weekday, at or after
// the run time, and not yet run that exchange day.
func (r *Runner) Due(t time.Time) bool {
	local := t.In(r.cal.Loc())
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if util.SinceMidnight(local, r.cal.Loc()) < r.runAt {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastDay != util.DayKey(local, r.cal.Loc())
}

// RunCycle fires the scheduled run when due.
func (r *Runner) RunCycle(ctx context.Context) (string, error) {
	now := r.now()
	if !r.Due(now) {
		return "", nil
	}
	day := util.DayKey(now, r.cal.Loc())

	stats, err := r.Run(ctx, nil)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.lastDay = day
	r.mu.Unlock()
	return stats.String(), nil
}

// LastRun returns the stats of the most recent run, nil before the first.
func (r *Runner) LastRun() *RunStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	s := *r.last
	return &s
}

// Window returns the issue-time range a run covers. A backfill date covers
// the calibration window up to that day's close; a scheduled run covers the
// lookback up to now.
func (r *Runner) Window(now time.Time, date *time.Time) (time.Time, time.Time) {
	if date == nil {
		return now.AddDate(0, 0, -r.cfg.LookbackDays), now
	}
	loc := r.cal.Loc()
	d := date.In(loc)
	cutoff := time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, loc)
	return cutoff.AddDate(0, 0, -r.cfg.WindowDays), cutoff
}

// Run grades every unevaluated opportunity in the window whose horizon has
// fully elapsed, then recalibrates when anything was graded. One
// opportunity's failure never aborts the batch.
func (r *Runner) Run(ctx context.Context, date *time.Time) (RunStats, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	now := r.now().UTC()
	from, to := r.Window(now, date)
	stats := RunStats{RunTime: now, From: from, To: to, Backfill: date != nil}

	recs, err := r.logs.UnevaluatedOpportunities(ctx, from, to)
	if err != nil {
		r.metrics.RecordError(Name, "log_read")
		return stats, fmt.Errorf("load unevaluated opportunities: %w", err)
	}
	stats.Total = len(recs)

	type dueRecord struct {
		rec models.OpportunityRecord
		end time.Time
	}
	var due []dueRecord
	for _, rec := range recs {
		end, err := r.windowEnd(rec)
		if err != nil {
			r.log.Warn("skip opportunity", applogger.Int64("id", rec.ID), applogger.Error(err))
			stats.Errors++
			continue
		}
		if end.After(now) {
			stats.Pending++
			continue
		}
		due = append(due, dueRecord{rec: rec, end: end})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, d := range due {
		rec, end := d.rec, d.end
		g.Go(func() error {
			res, err := r.evaluate(gctx, rec, end, now)
			if err == nil {
				err = r.logs.InsertPerformance(gctx, res)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.metrics.RecordError(Name, "evaluate")
				r.log.Error("evaluate opportunity",
					applogger.Int64("id", rec.ID),
					applogger.String("ticker", rec.Ticker),
					applogger.Error(err),
				)
				stats.Errors++
				return nil
			}
			stats.count(res.Outcome)
			r.metrics.TruthOutcome(string(rec.Horizon), string(res.Outcome))
			return nil
		})
	}
	_ = g.Wait()

	if stats.Evaluated > 0 {
		if _, err := r.Recalibrate(ctx); err != nil {
			r.log.Error("recalibrate", applogger.Error(err))
		}
	}

	r.mu.Lock()
	r.last = &stats
	r.mu.Unlock()
	r.log.Info("truth test complete",
		applogger.Bool("backfill", stats.Backfill),
		applogger.Time("from", from),
		applogger.Time("to", to),
		applogger.Int("evaluated", stats.Evaluated),
		applogger.Int("pending", stats.Pending),
		applogger.Int("pass", stats.Pass),
		applogger.Int("fail", stats.Fail),
		applogger.Int("expired", stats.Expired),
		applogger.Int("no_data", stats.NoData),
		applogger.Int("errors", stats.Errors),
	)
	return stats, nil
}

// windowEnd is the issue time advanced by the horizon's trading minutes.
func (r *Runner) windowEnd(rec models.OpportunityRecord) (time.Time, error) {
	spec, err := rec.Horizon.Spec()
	if err != nil {
		return time.Time{}, err
	}
	return r.cal.AddTradingMinutes(rec.IssuedAt, spec.EvalMinutes), nil
}

func (r *Runner) evaluate(ctx context.Context, rec models.OpportunityRecord, end, now time.Time) (models.PerformanceResult, error) {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	in, err := r.gather(fctx, rec, end)
	if err != nil {
		return models.PerformanceResult{}, err
	}
	return Evaluate(rec, in, now), nil
}

// gather reads the entry bar, the ATR as of issue and the forward path,
// preferring 1m bars.
func (r *Runner) gather(ctx context.Context, rec models.OpportunityRecord, end time.Time) (Inputs, error) {
	var in Inputs
	issue := rec.IssuedAt

	entry, err := r.candles.GetCandles(ctx, rec.Ticker, issue, issue.Add(r.cfg.EntryTolerance), domrepo.TF1m)
	if err != nil {
		return in, fmt.Errorf("entry candle: %w", err)
	}
	if len(entry) == 0 {
		return in, nil
	}
	in.Entry = &entry[0]

	hist, err := r.candles.GetCandlesBefore(ctx, rec.Ticker, issue, ATRPeriod+1, domrepo.TF5m)
	if err != nil {
		return in, fmt.Errorf("atr candles: %w", err)
	}
	if atr, ok := features.MeanTrueRange(hist, ATRPeriod); ok {
		in.ATR = atr
	} else {
		return in, nil
	}

	fwd, err := r.candles.GetCandles(ctx, rec.Ticker, issue, end, domrepo.TF1m)
	if err != nil {
		return in, fmt.Errorf("forward 1m candles: %w", err)
	}
	// a 1m path that stops short of the window end gives way to a 5m path
	// that reaches further
	if len(fwd) == 0 || fwd[len(fwd)-1].Bucket.Before(end.Add(-5*time.Minute)) {
		alt, err := r.candles.GetCandles(ctx, rec.Ticker, issue, end, domrepo.TF5m)
		switch {
		case err != nil && len(fwd) == 0:
			return in, fmt.Errorf("forward 5m candles: %w", err)
		case err == nil && len(alt) > 0 && (len(fwd) == 0 || alt[len(alt)-1].Bucket.After(fwd[len(fwd)-1].Bucket)):
			fwd = alt
		}
	}
	in.Forward = fwd
	return in, nil
}

// Recalibrate rebuilds the calibration state from the rolling window and
// publishes it. An empty window leaves the current state untouched.
func (r *Runner) Recalibrate(ctx context.Context) (*models.CalibrationState, error) {
	now := r.now().UTC()
	samples, err := r.logs.CalibrationSamples(ctx, now.AddDate(0, 0, -r.cfg.WindowDays))
	if err != nil {
		r.metrics.RecordError(Name, "log_read")
		return nil, fmt.Errorf("load calibration samples: %w", err)
	}
	if len(samples) == 0 {
		r.log.Warn("no graded samples in calibration window", applogger.Int("window_days", r.cfg.WindowDays))
		return nil, nil
	}

	state := Calibrate(samples, r.cfg.WindowDays, now)
	for _, b := range state.Buckets {
		r.metrics.SetShrink(string(b.Horizon), string(b.MarketState)+"_"+string(b.AttentionBucket), b.ShrinkFactor)
	}
	if state.BrierScore != nil {
		r.metrics.SetBrier(*state.BrierScore)
	}

	if err := r.store.SetCalibration(ctx, state); err != nil {
		r.metrics.RecordError(Name, "store_write")
		r.log.Error("store calibration", applogger.Error(err))
	}
	if err := r.pub.PublishCalibration(ctx, state); err != nil {
		r.metrics.RecordError(Name, "publish")
		r.log.Error("publish calibration", applogger.Error(err))
	}
	r.log.Info("calibration published",
		applogger.Int("buckets", len(state.Buckets)),
		applogger.Float64("global_shrink", state.GlobalShrink),
		applogger.Any("degraded_horizons", state.DegradedHorizons),
	)
	return &state, nil
}
