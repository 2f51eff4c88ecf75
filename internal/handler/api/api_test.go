package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/service/ratelimit"
	"SignalPipe/internal/usecase/truthtest"
	"SignalPipe/pkg/cache"
	xhttp "SignalPipe/pkg/http"
	"SignalPipe/pkg/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdvisor struct {
	ticker  string
	briefs  atomic.Int32
	queries atomic.Int32
	err     error
}

func (a *fakeAdvisor) Query(_ context.Context, ticker string) (models.QueryResult, error) {
	a.queries.Add(1)
	a.ticker = ticker
	if a.err != nil {
		return models.QueryResult{}, a.err
	}
	return models.QueryResult{Ticker: ticker, Eligible: true}, nil
}

func (a *fakeAdvisor) Brief(context.Context) (models.Brief, error) {
	a.briefs.Add(1)
	if a.err != nil {
		return models.Brief{}, a.err
	}
	return models.Brief{DayType: "TREND", MarketState: models.Green}, nil
}

func (a *fakeAdvisor) Status(context.Context) (models.Status, error) {
	if a.err != nil {
		return models.Status{}, a.err
	}
	return models.Status{ExecutionEnabled: true}, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func serve(t *testing.T, h xhttp.Handler, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e)
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestQueryUppercasesTicker(t *testing.T) {
	adv := &fakeAdvisor{}
	h := NewQueryHandler(nil, adv, nil, nil)

	rec, env := serve(t, h, http.MethodGet, "/query?ticker=aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", adv.ticker)

	var res models.QueryResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "AAPL", res.Ticker)
	assert.True(t, res.Eligible)
}

func TestQueryValidation(t *testing.T) {
	adv := &fakeAdvisor{}
	h := NewQueryHandler(nil, adv, nil, nil)

	rec, _ := serve(t, h, http.MethodGet, "/query")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/query?ticker=WAYTOOLONGTICKER")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = serve(t, h, http.MethodGet, "/query?ticker=AA%3BPL")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, adv.queries.Load())
}

func TestQueryStoreFailureIsUnavailable(t *testing.T) {
	h := NewQueryHandler(nil, &fakeAdvisor{err: errors.New("redis: connection refused")}, nil, nil)
	rec, env := serve(t, h, http.MethodGet, "/query?ticker=MSFT")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.Status)
}

func TestQueryRateLimited(t *testing.T) {
	adv := &fakeAdvisor{}
	h := NewQueryHandler(nil, adv, nil, ratelimit.New())
	e := echo.New()
	h.RegisterRoutes(e)

	codes := make([]int, 0, rateBurst+1)
	for i := 0; i < rateBurst+1; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query?ticker=AAPL", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[rateBurst])
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/query?ticker=AAPL", nil))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, int32(rateBurst), adv.queries.Load())
}

func TestBriefServedFromCache(t *testing.T) {
	adv := &fakeAdvisor{}
	h := NewQueryHandler(nil, adv, cache.NewMemoryCache(8), nil)

	rec, _ := serve(t, h, http.MethodGet, "/brief")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=15", rec.Header().Get(echo.HeaderCacheControl))

	rec, env := serve(t, h, http.MethodGet, "/brief")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), adv.briefs.Load())

	var b models.Brief
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, "TREND", b.DayType)
	assert.Equal(t, models.Green, b.MarketState)
}

func TestStatusFailureNotCached(t *testing.T) {
	adv := &fakeAdvisor{err: errors.New("redis down")}
	c := cache.NewMemoryCache(8)
	h := NewQueryHandler(nil, adv, c, nil)

	rec, _ := serve(t, h, http.MethodGet, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var cached []byte
	assert.ErrorIs(t, c.Get(context.Background(), "api:status", &cached), cache.ErrCacheMiss)

	adv.err = nil
	rec, env := serve(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.ExecutionEnabled)
}

type staticHealth models.ComponentHealth

func (s staticHealth) Health() models.ComponentHealth { return models.ComponentHealth(s) }

func TestHealthReportsComponentsAndDependencies(t *testing.T) {
	comps := []HealthReporter{
		staticHealth{Name: "scanner", Running: true, Cycles: 12},
		staticHealth{Name: "attention", Running: true, Degraded: true},
	}
	checks := map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return nil },
	}
	h := NewHealthHandler(nil, comps, checks)
	h.system = func(context.Context) (*models.SystemStats, error) {
		return &models.SystemStats{CPUPercent: 12.5, Goroutines: 40}, nil
	}

	rec, env := serve(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var rep HealthReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, "degraded", rep.Status)
	require.Len(t, rep.Components, 2)
	assert.Equal(t, "attention", rep.Components[0].Name)
	assert.Equal(t, map[string]string{"redis": "ok", "postgres": "ok"}, rep.Dependencies)
	require.NotNil(t, rep.System)
	assert.Equal(t, 40, rep.System.Goroutines)
	assert.NotNil(t, rep.RecentErrors)
}

func TestHealthDependencyDown(t *testing.T) {
	h := NewHealthHandler(nil, nil, map[string]Check{
		"clickhouse": func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	h.system = func(context.Context) (*models.SystemStats, error) { return nil, errors.New("no /proc") }

	rec, env := serve(t, h, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var rep HealthReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, "down", rep.Status)
	assert.Equal(t, "dial tcp: refused", rep.Dependencies["clickhouse"])
	assert.Nil(t, rep.System)
}

func newPublisher(t *testing.T) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewRedisPublisher(nil, client, queue.WithKeyPrefix("test:queue"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q, mr
}

func TestRunQueuesBackfill(t *testing.T) {
	q, mr := newPublisher(t)
	h := NewRunHandler(nil, q, nil)

	rec, env := serve(t, h, http.MethodPost, "/run?date=2024-03-15")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var acc models.RunAccepted
	require.NoError(t, json.Unmarshal(env.Data, &acc))
	assert.True(t, acc.Queued)
	assert.Equal(t, "2024-03-15", acc.Date)
	assert.NotEmpty(t, acc.JobID)

	items, err := mr.List("test:queue:messages")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var msg queue.Message
	require.NoError(t, json.Unmarshal([]byte(items[0]), &msg))
	assert.Equal(t, truthtest.JobType, msg.Type)
	p, err := queue.ParsePayload[truthtest.BackfillPayload](msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, acc.JobID, p.JobID)
	assert.Equal(t, "2024-03-15", p.Date)
}

func TestRunRejectsBadDate(t *testing.T) {
	q, mr := newPublisher(t)
	h := NewRunHandler(nil, q, nil)

	rec, _ := serve(t, h, http.MethodPost, "/run?date=15-03-2024")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, mr.Exists("test:queue:messages"))
}

type failingQueue struct{}

func (failingQueue) PublishMessage(context.Context, string, interface{}) error {
	return errors.New("queue not running")
}

func TestRunQueueUnavailable(t *testing.T) {
	h := NewRunHandler(nil, failingQueue{}, nil)
	rec, _ := serve(t, h, http.MethodPost, "/run")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
