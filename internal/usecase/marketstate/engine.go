package marketstate

import (
	"context"
	"fmt"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/repository"
	"SignalPipe/internal/service/calendar"
	applogger "SignalPipe/pkg/logger"
)

// Name is the component name used in logs, metrics and health.
const Name = "marketstate"

// Engine computes the GREEN/YELLOW/RED permission state once per cycle and
// publishes it when state or reason changes.
type Engine struct {
	cal       *calendar.NYSE
	vol       domrepo.VolatilitySource
	store     domrepo.StateStore
	pub       domrepo.Publisher
	logs      domrepo.LogStore
	metrics   domrepo.Metrics
	log       *applogger.Logger
	eventRisk func() bool
	now       func() time.Time

	// last computed state; RunCycle is serialized by the cycle loop
	last *models.MarketState
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventRisk installs the event-risk flag lookup.
func WithEventRisk(fn func() bool) Option {
	return func(e *Engine) { e.eventRisk = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates the market state engine. vol may be nil, in which case
// volatility is treated as normal.
func NewEngine(
	cal *calendar.NYSE,
	vol domrepo.VolatilitySource,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		cal:       cal,
		vol:       vol,
		store:     store,
		pub:       pub,
		logs:      logs,
		metrics:   metrics,
		log:       l,
		eventRisk: func() bool { return false },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate computes the state at now without side effects beyond reading
// volatility.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) models.MarketState {
	sess, closure := e.cal.SessionFor(now)
	in := Inputs{
		Now:       now,
		Session:   sess,
		Closure:   closure,
		EventRisk: e.eventRisk(),
	}
	if e.vol != nil {
		r, err := e.vol.Latest(ctx)
		if err != nil {
			e.log.Warn("volatility unavailable, assuming normal", applogger.Error(err))
		} else {
			in.Volatility = &r
		}
	}
	return Classify(in)
}

// RunCycle evaluates the state and publishes it on a transition.
func (e *Engine) RunCycle(ctx context.Context) (string, error) {
	st := e.Evaluate(ctx, e.now())
	e.metrics.SetMarketState(string(st.State))
	summary := fmt.Sprintf("%s %s", st.State, st.Reason)

	prev, err := e.store.GetMarketState(ctx)
	if err != nil {
		e.log.Warn("read previous market state, using last computed", applogger.Error(err))
		e.metrics.RecordError(Name, "store_read")
		prev = e.last
	}
	if !st.Transition(prev) {
		e.last = &st
		return summary, nil
	}
	e.last = &st

	if err := e.store.SetMarketState(ctx, st); err != nil {
		e.metrics.RecordError(Name, "store_write")
		e.log.Error("store market state", applogger.Error(err))
	}

	change := models.MarketStateChange{
		ChangedFields: st.ChangedFields(prev),
		StateKey:      repository.KeyMarketState,
		State:         st.State,
		Timestamp:     st.Timestamp,
	}
	if prev != nil {
		change.Previous = prev.State
	}
	if err := e.pub.PublishMarketState(ctx, change); err != nil {
		e.metrics.RecordError(Name, "publish")
		e.log.Error("publish market state change", applogger.Error(err))
	}
	if err := e.logs.AppendRegime(ctx, st); err != nil {
		e.metrics.RecordError(Name, "log_write")
		e.log.Error("append regime log", applogger.Error(err))
	}

	e.log.Info("market state changed",
		applogger.String("state", string(st.State)),
		applogger.String("reason", st.Reason),
		applogger.String("window", st.Window),
		applogger.Strings("changed", change.ChangedFields),
	)
	return summary, nil
}
