package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/services/features"
	applogger "SignalPipe/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Name is the component name used in logs, metrics and health.
const Name = "scanner"

// DefaultUniverse is scanned when none is configured.
var DefaultUniverse = []string{"SPY", "QQQ", "IWM", "AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"}

// oneMinuteWindow caps the 1m fallback read.
const oneMinuteWindow = 60 * time.Minute

// Config tunes the scanner.
type Config struct {
	Universe     []string
	Workers      int
	FetchTimeout time.Duration
	CandidateTTL time.Duration
}

// Waker requests an immediate cycle from the owning loop.
type Waker interface {
	Wake() bool
}

// Scanner filters the universe into per-horizon candidate lists while the
// market light is GREEN or YELLOW.
type Scanner struct {
	cfg     Config
	candles domrepo.CandleStore
	store   domrepo.StateStore
	pub     domrepo.Publisher
	logs    domrepo.LogStore
	metrics domrepo.Metrics
	log     *applogger.Logger
	now     func() time.Time

	mu    sync.RWMutex
	waker Waker
}

// NewScanner creates a scanner.
func NewScanner(
	cfg Config,
	candles domrepo.CandleStore,
	store domrepo.StateStore,
	pub domrepo.Publisher,
	logs domrepo.LogStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *Scanner {
	if len(cfg.Universe) == 0 {
		cfg.Universe = DefaultUniverse
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.CandidateTTL <= 0 {
		cfg.CandidateTTL = 300 * time.Second
	}
	return &Scanner{
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

// SetWaker attaches the loop that OnMarketStateChange wakes.
func (s *Scanner) SetWaker(w Waker) {
	s.mu.Lock()
	s.waker = w
	s.mu.Unlock()
}

// OnMarketStateChange forces a rescan when the light improves from RED, or
// from YELLOW to GREEN. An unknown previous state counts as RED.
func (s *Scanner) OnMarketStateChange(_ context.Context, c models.MarketStateChange) error {
	prev := c.Previous
	if prev == "" {
		prev = models.Red
	}
	if c.State.Rank() <= prev.Rank() || c.State == models.Red {
		return nil
	}
	s.mu.RLock()
	w := s.waker
	s.mu.RUnlock()
	if w != nil && w.Wake() {
		s.log.Info("market state improved, rescanning",
			applogger.String("from", string(prev)),
			applogger.String("to", string(c.State)),
		)
	}
	return nil
}

// RunCycle scans every horizon unless the market light vetoes it.
func (s *Scanner) RunCycle(ctx context.Context) (string, error) {
	market, err := s.store.GetMarketState(ctx)
	if err != nil {
		s.metrics.RecordError(Name, "store_read")
		return "", fmt.Errorf("read market state: %w", err)
	}
	if market == nil || market.State == models.Red {
		// missing state is treated as RED
		return "sleeping: market RED", nil
	}

	now := s.now()
	counts := make([]string, 0, len(models.Horizons))
	for _, h := range models.Horizons {
		list, err := s.ScanHorizon(ctx, h, market.State, now)
		if err != nil {
			return "", err
		}
		s.publish(ctx, list)
		counts = append(counts, fmt.Sprintf("%s=%d", h, len(list.Candidates)))
	}

	if err := s.store.SetLastScanTime(ctx, now); err != nil {
		s.metrics.RecordError(Name, "store_write")
		s.log.Error("record last scan time", applogger.Error(err))
	}
	return fmt.Sprintf("%s %s", market.State, strings.Join(counts, " ")), nil
}

// ScanHorizon runs the filter chain over the universe for one horizon with a
// bounded worker pool. Fetch failures drop the ticker, never the scan.
func (s *Scanner) ScanHorizon(ctx context.Context, h models.Horizon, state models.Light, now time.Time) (models.CandidateList, error) {
	spec, err := h.Spec()
	if err != nil {
		return models.CandidateList{}, err
	}

	verdicts := make([]*Verdict, len(s.cfg.Universe))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, ticker := range s.cfg.Universe {
		g.Go(func() error {
			candles, err := s.fetch(gctx, ticker, spec.Lookback, now)
			if err != nil {
				s.metrics.RecordError(Name, "fetch")
				s.log.Warn("scanner fetch failed",
					applogger.String("ticker", ticker),
					applogger.String("horizon", string(h)),
					applogger.Error(err),
				)
				return nil
			}
			v := Apply(ticker, candles)
			verdicts[i] = &v
			return nil
		})
	}
	_ = g.Wait()

	list := models.CandidateList{
		Horizon:      h,
		Candidates:   []models.Candidate{},
		ScanTime:     now.UTC(),
		UniverseSize: len(s.cfg.Universe),
		MarketState:  state,
	}
	for _, v := range verdicts {
		if v != nil && v.Passed {
			list.Candidates = append(list.Candidates, v.Candidate)
		}
	}
	return list, nil
}

// fetch reads 5m candles over the lookback, falling back to at most an hour
// of 1m candles when none exist.
func (s *Scanner) fetch(ctx context.Context, ticker string, lookback time.Duration, now time.Time) ([]models.Candle, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	from, to := features.AlignFromTo(now.Add(-lookback), now, domrepo.TF5m)
	candles, err := s.candles.GetCandles(fctx, ticker, from, to, domrepo.TF5m)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		return candles, nil
	}

	window := lookback
	if window > oneMinuteWindow {
		window = oneMinuteWindow
	}
	from, to = features.AlignFromTo(now.Add(-window), now, domrepo.TF1m)
	return s.candles.GetCandles(fctx, ticker, from, to, domrepo.TF1m)
}

func (s *Scanner) publish(ctx context.Context, list models.CandidateList) {
	s.metrics.SetCandidates(string(list.Horizon), len(list.Candidates))

	if err := s.store.SetCandidates(ctx, list, s.cfg.CandidateTTL); err != nil {
		s.metrics.RecordError(Name, "store_write")
		s.log.Error("store candidates", applogger.String("horizon", string(list.Horizon)), applogger.Error(err))
	}
	if err := s.pub.PublishCandidates(ctx, list); err != nil {
		s.metrics.RecordError(Name, "publish")
		s.log.Error("publish candidates", applogger.String("horizon", string(list.Horizon)), applogger.Error(err))
	}
	if len(list.Candidates) == 0 {
		return
	}
	if err := s.logs.AppendCandidates(ctx, list); err != nil {
		s.metrics.RecordError(Name, "log_write")
		s.log.Error("append scanner candidates", applogger.Error(err))
	}
}
