package volatility

import (
	"context"
	"fmt"
	"net/url"
	"time"

	domrepo "SignalPipe/internal/domain/repository"
	xhttp "SignalPipe/pkg/http"
)

// quote is the REST quote body: c is the last value, t its unix time.
type quote struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// IndexSource reads the volatility index level from a REST quote endpoint.
type IndexSource struct {
	client   *xhttp.Client
	url      string
	symbol   string
	apiKey   string
	elevated float64
	high     float64
	now      func() time.Time
}

// IndexConfig configures IndexSource.
type IndexConfig struct {
	URL      string
	Symbol   string
	APIKey   string
	Elevated float64
	High     float64
	Timeout  time.Duration
}

func NewIndexSource(cfg IndexConfig, opts ...xhttp.ClientOption) *IndexSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts = append([]xhttp.ClientOption{
		xhttp.WithTimeout(timeout),
		xhttp.WithRetry(2, 50*time.Millisecond),
	}, opts...)
	return &IndexSource{
		client:   xhttp.NewClient(opts...),
		url:      cfg.URL,
		symbol:   cfg.Symbol,
		apiKey:   cfg.APIKey,
		elevated: cfg.Elevated,
		high:     cfg.High,
		now:      time.Now,
	}
}

func (s *IndexSource) Name() string { return s.symbol }

func (s *IndexSource) Latest(ctx context.Context) (domrepo.VolatilityReading, error) {
	query := url.Values{"symbol": {s.symbol}}
	if s.apiKey != "" {
		query.Set("token", s.apiKey)
	}
	var q quote
	if err := s.client.GetJSON(ctx, s.url, query, &q); err != nil {
		return domrepo.VolatilityReading{}, fmt.Errorf("%s quote: %w", s.symbol, err)
	}
	if q.Current <= 0 {
		return domrepo.VolatilityReading{}, fmt.Errorf("%s quote: %w", s.symbol, domrepo.ErrNoData)
	}
	asOf := s.now()
	if q.Timestamp > 0 {
		asOf = time.Unix(q.Timestamp, 0)
	}
	return domrepo.VolatilityReading{
		Value:    q.Current,
		Source:   s.symbol,
		Elevated: s.elevated,
		High:     s.high,
		AsOf:     asOf,
	}, nil
}
