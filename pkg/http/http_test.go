package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeRequest struct {
	Horizon string `query:"horizon" default:"H30" validate:"oneof=H30 H2H HDAY HWEEK"`
	Limit   int    `query:"limit" default:"10" validate:"gte=1,lte=50"`
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	c, _ := newContext("/query")
	var req probeRequest
	assert.Nil(t, ReadAndValidateRequest(c, &req))
	assert.Equal(t, "H30", req.Horizon)
	assert.Equal(t, 10, req.Limit)
}

func TestReadAndValidateRequestRejects(t *testing.T) {
	c, _ := newContext("/query?horizon=H4&limit=99")
	var req probeRequest
	errs, ok := ReadAndValidateRequest(c, &req).([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_ONEOF", errs[0].Code)
	assert.Equal(t, "horizon", errs[0].Field)
	assert.Equal(t, "ERR_LTE", errs[1].Code)
	assert.Equal(t, "limit must be at most 50", errs[1].Message)
}

type tickerRequest struct {
	Ticker string `query:"ticker" validate:"required,ticker"`
}

func TestTickerValidation(t *testing.T) {
	for target, valid := range map[string]bool{
		"/query?ticker=aapl":        true,
		"/query?ticker=BRK.B":       true,
		"/query?ticker=RDS-A":       true,
		"/query?ticker=1ABC":        false,
		"/query?ticker=ABCDEFGHIJK": false,
		"/query?ticker=AA%20PL":     false,
		"/query":                    false,
	} {
		c, _ := newContext(target)
		var req tickerRequest
		got := ReadAndValidateRequest(c, &req)
		if valid {
			assert.Nil(t, got, target)
		} else {
			assert.NotNil(t, got, target)
		}
	}
}

func TestRateLimitedErrorSetsRetryAfter(t *testing.T) {
	c, rec := newContext("/query")
	require.NoError(t, AppErrorResponse(c, RateLimitedError(1500*time.Millisecond)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestAppErrorResponseStatus(t *testing.T) {
	c, rec := newContext("/brief")
	require.NoError(t, AppErrorResponse(c, UnavailableError("state store down")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusServiceUnavailable, body.Status)

	c, rec = newContext("/brief")
	require.NoError(t, AppErrorResponse(c, errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "VIX" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"price": 18.5}`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("X-Api-Key", "k"), WithRetry(3, time.Millisecond))
	var out struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, url.Values{"symbol": {"VIX"}}, &out))
	assert.Equal(t, 18.5, out.Price)

	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Temporary())
}

func TestClientRetriesTemporaryStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(WithRetry(3, time.Millisecond))
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, nil, &struct{}{}))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	c = NewClient(WithRetry(2, time.Millisecond))
	err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(2), calls.Load())
}

type panicHandler struct{}

func (panicHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/boom", func(echo.Context) error { panic("nil map") })
	e.GET("/ok", func(c echo.Context) error { return SuccessResponse(c, "fine") })
}

func TestServerMiddlewareChain(t *testing.T) {
	srv := NewServer([]Handler{panicHandler{}, nil}, WithCORSOrigins("https://dash.example"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	srv.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerStartReportsBindErrors(t *testing.T) {
	srv := NewServer([]Handler{panicHandler{}}, WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + srv.Addr() + "/ok")
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	_, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	taken := NewServer(nil, WithHost("127.0.0.1"), WithPort(n))
	assert.Error(t, taken.Start())
}
