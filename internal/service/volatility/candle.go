package volatility

import (
	"context"
	"fmt"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
)

// CandleSource falls back to the latest daily close of the ETF in the candle
// store.
type CandleSource struct {
	store    domrepo.CandleStore
	symbol   string
	elevated float64
	high     float64
}

func NewCandleSource(store domrepo.CandleStore, symbol string, elevated, high float64) *CandleSource {
	return &CandleSource{store: store, symbol: symbol, elevated: elevated, high: high}
}

func (s *CandleSource) Name() string { return s.symbol + "_DAILY" }

func (s *CandleSource) Latest(ctx context.Context) (domrepo.VolatilityReading, error) {
	candles, err := s.store.GetLatestNCandles(ctx, s.symbol, 1, domrepo.TF1d)
	if err != nil {
		return domrepo.VolatilityReading{}, fmt.Errorf("%s daily close: %w", s.symbol, err)
	}
	last, ok := models.Last(candles)
	if !ok || last.Close <= 0 {
		return domrepo.VolatilityReading{}, fmt.Errorf("%s daily close: %w", s.symbol, domrepo.ErrNoData)
	}
	return domrepo.VolatilityReading{
		Value:    last.Close,
		Source:   s.Name(),
		Elevated: s.elevated,
		High:     s.high,
		AsOf:     last.Bucket,
	}, nil
}

// Chain tries sources in order and returns the first reading.
type Chain struct {
	sources []domrepo.VolatilitySource
	timeout time.Duration
}

// NewChain builds a chain; nil sources are skipped.
func NewChain(timeout time.Duration, sources ...domrepo.VolatilitySource) *Chain {
	c := &Chain{timeout: timeout}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Latest returns the first available reading. When every source fails the
// joined error wraps ErrNoData.
func (c *Chain) Latest(ctx context.Context) (domrepo.VolatilityReading, error) {
	var errs []error
	for _, s := range c.sources {
		r, err := c.try(ctx, s)
		if err == nil {
			return r, nil
		}
		errs = append(errs, err)
	}
	return domrepo.VolatilityReading{}, fmt.Errorf("%w: %v", domrepo.ErrNoData, errs)
}

func (c *Chain) try(ctx context.Context, s domrepo.VolatilitySource) (domrepo.VolatilityReading, error) {
	if c.timeout <= 0 {
		return s.Latest(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return s.Latest(cctx)
}
