// Package usecasetest provides in-memory fakes of the repository interfaces
// for engine tests.
package usecasetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	domrepo "SignalPipe/internal/domain/repository"
	"SignalPipe/internal/repository"
	"SignalPipe/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewStateStore returns a Redis-backed state store on a fresh miniredis.
func NewStateStore(t *testing.T) (*repository.RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return StateStoreOn(t, mr), mr
}

// StateStoreOn connects a new store to an existing miniredis, simulating a
// process restart against the same Redis.
func StateStoreOn(t *testing.T, mr *miniredis.Miniredis) *repository.RedisStateStore {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheFromClient(client, "test")
	t.Cleanup(func() { _ = c.Close() })
	return repository.NewRedisStateStore(c)
}

// Candles is a CandleStore over fixed series.
type Candles struct {
	mu     sync.Mutex
	series map[string]map[domrepo.Timeframe][]models.Candle
	errs   map[string]error
	calls  atomic.Int64
}

func NewCandles() *Candles {
	return &Candles{
		series: make(map[string]map[domrepo.Timeframe][]models.Candle),
		errs:   make(map[string]error),
	}
}

// Put stores an ascending series.
func (c *Candles) Put(symbol string, tf domrepo.Timeframe, candles []models.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.series[symbol] == nil {
		c.series[symbol] = make(map[domrepo.Timeframe][]models.Candle)
	}
	c.series[symbol][tf] = candles
}

// Fail makes every read of symbol return err.
func (c *Candles) Fail(symbol string, err error) {
	c.mu.Lock()
	c.errs[symbol] = err
	c.mu.Unlock()
}

// Calls is the number of reads served.
func (c *Candles) Calls() int64 { return c.calls.Load() }

func (c *Candles) get(symbol string, tf domrepo.Timeframe) ([]models.Candle, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.errs[symbol]; err != nil {
		return nil, err
	}
	return c.series[symbol][tf], nil
}

func (c *Candles) GetCandles(_ context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	all, err := c.get(symbol, tf)
	if err != nil {
		return nil, err
	}
	var out []models.Candle
	for _, k := range all {
		if !k.Bucket.Before(from) && !k.Bucket.After(to) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *Candles) GetLatestNCandles(_ context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	all, err := c.get(symbol, tf)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return append([]models.Candle(nil), all...), nil
}

func (c *Candles) GetCandlesBefore(_ context.Context, symbol string, at time.Time, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	all, err := c.get(symbol, tf)
	if err != nil {
		return nil, err
	}
	var out []models.Candle
	for _, k := range all {
		if !k.Bucket.After(at) {
			out = append(out, k)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Series builds n candles of timeframe step starting at t0. close(i) gives
// the close of bar i; highs and lows sit half a point around it.
func Series(symbol string, t0 time.Time, step time.Duration, n int, volume float64, close func(i int) float64) []models.Candle {
	out := make([]models.Candle, n)
	prev := close(0)
	for i := range out {
		c := close(i)
		out[i] = models.Candle{
			Bucket: t0.Add(time.Duration(i) * step),
			Symbol: symbol,
			Open:   prev,
			High:   max(c, prev) + 0.5,
			Low:    min(c, prev) - 0.5,
			Close:  c,
			Volume: volume,
		}
		prev = c
	}
	return out
}

// Publisher records every notification.
type Publisher struct {
	mu            sync.Mutex
	Err           error
	MarketStates  []models.MarketStateChange
	Attention     []models.AttentionState
	Candidates    []models.CandidateList
	Opportunities []models.OpportunityRank
	Executions    []models.ExecutionEvent
	Calibrations  []models.CalibrationState
}

func (p *Publisher) record(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	fn()
	return nil
}

func (p *Publisher) PublishMarketState(_ context.Context, c models.MarketStateChange) error {
	return p.record(func() { p.MarketStates = append(p.MarketStates, c) })
}

func (p *Publisher) PublishAttention(_ context.Context, s models.AttentionState) error {
	return p.record(func() { p.Attention = append(p.Attention, s) })
}

func (p *Publisher) PublishCandidates(_ context.Context, l models.CandidateList) error {
	return p.record(func() { p.Candidates = append(p.Candidates, l) })
}

func (p *Publisher) PublishOpportunities(_ context.Context, r models.OpportunityRank) error {
	return p.record(func() { p.Opportunities = append(p.Opportunities, r) })
}

func (p *Publisher) PublishExecution(_ context.Context, e models.ExecutionEvent) error {
	return p.record(func() { p.Executions = append(p.Executions, e) })
}

func (p *Publisher) PublishCalibration(_ context.Context, s models.CalibrationState) error {
	return p.record(func() { p.Calibrations = append(p.Calibrations, s) })
}

func (p *Publisher) Close() error { return nil }

// Events is a copy of everything a Publisher recorded.
type Events struct {
	MarketStates  []models.MarketStateChange
	Attention     []models.AttentionState
	Candidates    []models.CandidateList
	Opportunities []models.OpportunityRank
	Executions    []models.ExecutionEvent
	Calibrations  []models.CalibrationState
}

// Snapshot returns copies of the recorded events under the lock.
func (p *Publisher) Snapshot() Events {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Events{
		MarketStates:  append([]models.MarketStateChange(nil), p.MarketStates...),
		Attention:     append([]models.AttentionState(nil), p.Attention...),
		Candidates:    append([]models.CandidateList(nil), p.Candidates...),
		Opportunities: append([]models.OpportunityRank(nil), p.Opportunities...),
		Executions:    append([]models.ExecutionEvent(nil), p.Executions...),
		Calibrations:  append([]models.CalibrationState(nil), p.Calibrations...),
	}
}

// LogStore records appends and serves the truth-test queries from memory.
type LogStore struct {
	mu            sync.Mutex
	Err           error
	Regimes       []models.MarketState
	Attention     []models.AttentionState
	Candidates    []models.CandidateList
	Opportunities []models.Opportunity
	Executions    []models.ExecutionEvent
	Performance   []models.PerformanceResult
	Pending       []models.OpportunityRecord
	Samples       []models.CalibrationSample
	nextID        int64
}

func (s *LogStore) record(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	fn()
	return nil
}

func (s *LogStore) AppendRegime(_ context.Context, m models.MarketState) error {
	return s.record(func() { s.Regimes = append(s.Regimes, m) })
}

func (s *LogStore) AppendAttention(_ context.Context, a models.AttentionState) error {
	return s.record(func() { s.Attention = append(s.Attention, a) })
}

func (s *LogStore) AppendCandidates(_ context.Context, l models.CandidateList) error {
	return s.record(func() { s.Candidates = append(s.Candidates, l) })
}

func (s *LogStore) InsertOpportunities(_ context.Context, opps []models.Opportunity) ([]int64, error) {
	var ids []int64
	err := s.record(func() {
		for _, o := range opps {
			s.nextID++
			o.ID = s.nextID
			ids = append(ids, o.ID)
			s.Opportunities = append(s.Opportunities, o)
		}
	})
	return ids, err
}

func (s *LogStore) AppendExecution(_ context.Context, e models.ExecutionEvent) error {
	return s.record(func() {
		for _, prev := range s.Executions {
			if prev.ExecutionID == e.ExecutionID {
				return
			}
		}
		s.Executions = append(s.Executions, e)
	})
}

func (s *LogStore) UnevaluatedOpportunities(_ context.Context, from, to time.Time) ([]models.OpportunityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	done := make(map[int64]bool, len(s.Performance))
	for _, p := range s.Performance {
		done[p.OpportunityID] = true
	}
	var out []models.OpportunityRecord
	for _, r := range s.Pending {
		if done[r.ID] || r.IssuedAt.Before(from) || !r.IssuedAt.Before(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *LogStore) InsertPerformance(_ context.Context, r models.PerformanceResult) error {
	return s.record(func() {
		for _, p := range s.Performance {
			if p.OpportunityID == r.OpportunityID {
				return
			}
		}
		s.Performance = append(s.Performance, r)
	})
}

func (s *LogStore) CalibrationSamples(context.Context, time.Time) ([]models.CalibrationSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]models.CalibrationSample(nil), s.Samples...), nil
}

func (s *LogStore) Health(context.Context) error { return s.Err }

// Broker is a scripted broker that counts submissions.
type Broker struct {
	mu       sync.Mutex
	Err      error
	PosErr   error
	Open     map[string]bool
	Orders   []models.OrderRequest
	sequence int
}

func (b *Broker) SubmitOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Orders = append(b.Orders, req)
	if b.Err != nil {
		return models.Order{}, b.Err
	}
	b.sequence++
	return models.Order{
		ID:       fmt.Sprintf("paper-%d", b.sequence),
		Ticker:   req.Ticker,
		Side:     req.Side,
		Quantity: req.Quantity,
		Status:   "filled",
	}, nil
}

func (b *Broker) HasOpenPosition(_ context.Context, ticker string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PosErr != nil {
		return false, b.PosErr
	}
	return b.Open[ticker], nil
}

func (b *Broker) Positions(context.Context) ([]models.Position, error) { return nil, nil }

// Submitted is the number of orders that reached the broker.
func (b *Broker) Submitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Orders)
}

var (
	_ domrepo.CandleStore = (*Candles)(nil)
	_ domrepo.Publisher   = (*Publisher)(nil)
	_ domrepo.LogStore    = (*LogStore)(nil)
	_ domrepo.Broker      = (*Broker)(nil)
)
