package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/middleware"
	applogger "SignalPipe/pkg/logger"
)

// Name is the component name used in logs, metrics and health.
const Name = "execution"

// ModePaper is the only supported broker mode.
const ModePaper = "paper"

// ErrLiveMode is returned when the gateway is configured for anything other
// than paper trading.
var ErrLiveMode = errors.New("execution: only paper mode is supported")

const unknownTicker = "UNKNOWN"

// Config tunes the veto chain.
type Config struct {
	Mode           string
	MinProbability float64
	Cooldown       time.Duration
	SeenTTL        time.Duration
	Quantity       int64
	BrokerTimeout  time.Duration
}

// Gateway turns the top opportunity of each rank into at most one paper
// order. Every rank produces one execution event unless the batch is empty.
type Gateway struct {
	*middleware.Tracker

	cfg     Config
	store   domrepo.StateStore
	broker  domrepo.Broker
	pub     domrepo.Publisher
	logs    domrepo.LogStore
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time
}

// NewGateway creates the gateway, refusing any mode but paper.
func NewGateway(
	cfg Config,
	store domrepo.StateStore,
	broker domrepo.Broker,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) (*Gateway, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModePaper
	}
	if cfg.Mode != ModePaper {
		return nil, fmt.Errorf("%w: got %q", ErrLiveMode, cfg.Mode)
	}
	if cfg.MinProbability <= 0 {
		cfg.MinProbability = 0.90
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Minute
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = 24 * time.Hour
	}
	if cfg.Quantity <= 0 {
		cfg.Quantity = 1
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Gateway{
		Tracker: middleware.NewTracker(Name, metrics, l),
		cfg:     cfg,
		store:   store,
		broker:  broker,
		pub:     pub,
		logs:    logs,
		metrics: metrics,
		log:     l,
		now:     time.Now,
	}, nil
}

// OnOpportunities runs one rank through the veto chain.
func (g *Gateway) OnOpportunities(ctx context.Context, rank models.OpportunityRank) error {
	start := time.Now()
	ev, err := g.Process(ctx, rank)
	summary := "empty batch"
	if ev != nil {
		summary = fmt.Sprintf("%s %s: %s", ev.Ticker, ev.Status, ev.Why[0])
	}
	g.Record(start, summary, err)
	return err
}

// decision is the outcome of the veto chain before it is recorded.
type decision struct {
	status  models.ExecutionStatus
	kind    string
	reason  string
	orderID *string
}

// Process evaluates the top opportunity and records the resulting event.
// It returns nil for an empty batch that passed the global gates.
func (g *Gateway) Process(ctx context.Context, rank models.OpportunityRank) (*models.ExecutionEvent, error) {
	top, ok := rank.Top()
	ticker := top.Ticker
	if !ok {
		ticker = unknownTicker
	}
	horizon := rank.Horizon
	if ok && top.Horizon != "" {
		horizon = top.Horizon
	}
	id := models.ExecutionID(ticker, horizon, rank.RankTime)

	market, d := g.globalGates(ctx)
	var light models.Light
	if market != nil {
		light = market.State
	}
	if d == nil {
		if !ok {
			return nil, nil
		}
		d = g.decide(ctx, id, top)
	}

	ev := models.ExecutionEvent{
		ExecutionID: id,
		Ticker:      ticker,
		Horizon:     horizon,
		Status:      d.status,
		OrderID:     d.orderID,
		Why:         append([]string{d.reason}, top.Why...),
		Probability: top.Probability,
		MarketState: light,
		Timestamp:   g.now().UTC(),
	}
	g.emit(ctx, ev, d.kind)
	return &ev, nil
}

// globalGates checks the kill switch and the market light. A read failure
// blocks.
func (g *Gateway) globalGates(ctx context.Context) (*models.MarketState, *decision) {
	enabled, err := g.store.ExecutionEnabled(ctx)
	if err != nil {
		g.metrics.RecordError(Name, "store_read")
		g.log.Error("read kill switch", applogger.Error(err))
	}
	if err != nil || !enabled {
		return nil, &decision{status: models.StatusBlocked, kind: "kill_switch", reason: "Execution disabled (kill switch)"}
	}

	market, err := g.store.GetMarketState(ctx)
	if err != nil {
		g.metrics.RecordError(Name, "store_read")
		g.log.Error("read market state", applogger.Error(err))
	}
	if market == nil {
		return nil, &decision{status: models.StatusBlocked, kind: "market_state", reason: "Market state not available"}
	}
	if market.State != models.Green {
		return market, &decision{
			status: models.StatusBlocked,
			kind:   "market_state",
			reason: fmt.Sprintf("Market state is %s: %s", market.State, market.Reason),
		}
	}
	return market, nil
}

// decide runs the per-opportunity vetoes and, when all pass, submits.
func (g *Gateway) decide(ctx context.Context, id string, top models.Opportunity) *decision {
	if top.Probability < g.cfg.MinProbability {
		return &decision{
			status: models.StatusBlocked,
			kind:   "probability",
			reason: fmt.Sprintf("Probability %.4f below threshold %.2f", top.Probability, g.cfg.MinProbability),
		}
	}

	claimed, err := g.store.ClaimExecution(ctx, id, g.cfg.SeenTTL)
	if err != nil {
		g.metrics.RecordError(Name, "store_write")
		g.log.Error("claim execution id", applogger.String("execution_id", id), applogger.Error(err))
		return &decision{status: models.StatusError, kind: "idempotency", reason: "Idempotency check failed: " + err.Error()}
	}
	if !claimed {
		return &decision{status: models.StatusSkipped, kind: "duplicate", reason: "Duplicate execution_id (already processed)"}
	}

	cooled, err := g.store.ClaimCooldown(ctx, top.Ticker, g.cfg.Cooldown)
	if err != nil {
		g.metrics.RecordError(Name, "store_write")
		g.log.Error("claim cooldown", applogger.String("ticker", top.Ticker), applogger.Error(err))
		return &decision{status: models.StatusError, kind: "cooldown", reason: "Cooldown check failed: " + err.Error()}
	}
	if !cooled {
		return &decision{status: models.StatusSkipped, kind: "cooldown", reason: "Cooldown active"}
	}

	bctx, cancel := context.WithTimeout(ctx, g.cfg.BrokerTimeout)
	defer cancel()

	open, err := g.hasOpenPosition(ctx, bctx, top.Ticker)
	if err != nil || open {
		g.releaseCooldown(ctx, top.Ticker)
		return &decision{status: models.StatusSkipped, kind: "open_position", reason: "Already have open position"}
	}

	order, err := g.broker.SubmitOrder(bctx, models.OrderRequest{
		Ticker:   top.Ticker,
		Side:     models.Buy,
		Quantity: g.cfg.Quantity,
		ClientID: id,
	})
	if err != nil {
		g.metrics.RecordError(Name, "broker")
		g.releaseCooldown(ctx, top.Ticker)
		return &decision{status: models.StatusRejected, kind: "broker", reason: err.Error()}
	}

	if err := g.store.SetLastTrade(ctx, top.Ticker, g.now()); err != nil {
		g.metrics.RecordError(Name, "store_write")
		g.log.Warn("record last trade", applogger.String("ticker", top.Ticker), applogger.Error(err))
	}
	pos := models.Position{Ticker: top.Ticker, Quantity: order.Quantity, AvgPrice: order.FillPrice}
	if err := g.store.SetPosition(ctx, pos); err != nil {
		g.metrics.RecordError(Name, "store_write")
		g.log.Error("record position", applogger.String("ticker", top.Ticker), applogger.Error(err))
	}
	orderID := order.ID
	return &decision{status: models.StatusSubmitted, kind: "submitted", reason: "Order submitted successfully", orderID: &orderID}
}

// hasOpenPosition consults the stored positions first, then the broker.
// Any failed check is reported as an error and the caller skips.
func (g *Gateway) hasOpenPosition(ctx, bctx context.Context, ticker string) (bool, error) {
	pos, err := g.store.GetPosition(ctx, ticker)
	if err != nil {
		g.metrics.RecordError(Name, "store_read")
		g.log.Warn("read stored position", applogger.String("ticker", ticker), applogger.Error(err))
		return false, err
	}
	if pos != nil && pos.Quantity > 0 {
		return true, nil
	}
	open, err := g.broker.HasOpenPosition(bctx, ticker)
	if err != nil {
		g.metrics.RecordError(Name, "broker")
		g.log.Warn("position check failed", applogger.String("ticker", ticker), applogger.Error(err))
	}
	return open, err
}

func (g *Gateway) releaseCooldown(ctx context.Context, ticker string) {
	if err := g.store.ReleaseCooldown(ctx, ticker); err != nil {
		g.log.Warn("release cooldown", applogger.String("ticker", ticker), applogger.Error(err))
	}
}

// emit writes the event to the log and the bus. Both are best effort.
func (g *Gateway) emit(ctx context.Context, ev models.ExecutionEvent, kind string) {
	g.metrics.ExecutionDecision(string(ev.Status), kind)

	fields := []applogger.Field{
		applogger.String("execution_id", ev.ExecutionID),
		applogger.String("status", string(ev.Status)),
		applogger.String("reason", ev.Why[0]),
	}
	if ev.Status == models.StatusSubmitted {
		g.log.Info("paper order submitted", append(fields, applogger.String("order_id", *ev.OrderID))...)
	} else {
		g.log.Info("execution vetoed", fields...)
	}

	if err := g.logs.AppendExecution(ctx, ev); err != nil {
		g.metrics.RecordError(Name, "log_write")
		g.log.Error("write execution log", applogger.Error(err))
	}
	if err := g.pub.PublishExecution(ctx, ev); err != nil {
		g.metrics.RecordError(Name, "publish")
		g.log.Error("publish execution event", applogger.Error(err))
	}
}
