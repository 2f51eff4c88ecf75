package api

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"SignalPipe/internal/domain/models"
	"SignalPipe/internal/service/metrics"
	"SignalPipe/internal/service/ratelimit"
	"SignalPipe/pkg/cache"
	xhttp "SignalPipe/pkg/http"
	applogger "SignalPipe/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	briefTTL  = 15 * time.Second
	statusTTL = 5 * time.Second

	// per client: burst of 5, refilled at 2/s
	rateBurst  = 5
	rateRefill = 2
)

// Advisor answers read-only questions about the pipeline state.
type Advisor interface {
	Query(ctx context.Context, ticker string) (models.QueryResult, error)
	Brief(ctx context.Context) (models.Brief, error)
	Status(ctx context.Context) (models.Status, error)
}

// QueryHandler serves /query, /brief and /status.
type QueryHandler struct {
	logger *applogger.Logger
	adv    Advisor
	cache  cache.Service
	rl     *ratelimit.Limiter
}

func NewQueryHandler(logger *applogger.Logger, adv Advisor, c cache.Service, rl *ratelimit.Limiter) *QueryHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	if c == nil {
		c = cache.NewMemoryCache(64)
	}
	if rl == nil {
		rl = ratelimit.New()
	}
	return &QueryHandler{logger: logger, adv: adv, cache: c, rl: rl}
}

func (h *QueryHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/query", h.Query)
	e.GET("/brief", h.Brief)
	e.GET("/status", h.Status)
}

// Query handles GET /query?ticker=.
func (h *QueryHandler) Query(c echo.Context) error {
	start := time.Now()
	defer observe("query", start)

	if !allow(c, h.rl, "query") {
		return tooManyRequests(c)
	}
	req := &models.QueryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.adv.Query(c.Request().Context(), strings.ToUpper(req.Ticker))
	if err != nil {
		metrics.EndpointErrors.WithLabelValues("query").Inc()
		h.logger.Error("query failed", applogger.String("ticker", req.Ticker), applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("state store unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

// Brief handles GET /brief.
func (h *QueryHandler) Brief(c echo.Context) error {
	start := time.Now()
	defer observe("brief", start)
	return h.cached(c, "brief", briefTTL, func(ctx context.Context) (interface{}, error) {
		return h.adv.Brief(ctx)
	})
}

// Status handles GET /status.
func (h *QueryHandler) Status(c echo.Context) error {
	start := time.Now()
	defer observe("status", start)
	return h.cached(c, "status", statusTTL, func(ctx context.Context) (interface{}, error) {
		return h.adv.Status(ctx)
	})
}

func (h *QueryHandler) cached(c echo.Context, endpoint string, ttl time.Duration, load func(context.Context) (interface{}, error)) error {
	key := "api:" + endpoint
	ctx := c.Request().Context()
	var b []byte
	if err := h.cache.Get(ctx, key, &b); err == nil {
		metrics.EndpointCache.WithLabelValues(endpoint, "hit").Inc()
		return xhttp.SuccessResponse(c, json.RawMessage(b))
	}
	metrics.EndpointCache.WithLabelValues(endpoint, "miss").Inc()

	v, err := load(ctx)
	if err != nil {
		metrics.EndpointErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error(endpoint+" failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("state store unavailable").WithError(err))
	}
	if b, err := json.Marshal(v); err == nil {
		if err := h.cache.Set(ctx, key, b, ttl); err != nil {
			h.logger.Warn("response cache write", applogger.String("endpoint", endpoint), applogger.Error(err))
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age="+strconv.Itoa(int(ttl/time.Second)))
	return xhttp.SuccessResponse(c, v)
}

func observe(endpoint string, start time.Time) {
	metrics.EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func allow(c echo.Context, rl *ratelimit.Limiter, endpoint string) bool {
	if rl.Allow(c.RealIP()+":"+endpoint, rateBurst, rateRefill) {
		return true
	}
	metrics.RateLimited.WithLabelValues(endpoint).Inc()
	return false
}

func tooManyRequests(c echo.Context) error {
	return xhttp.AppErrorResponse(c, xhttp.RateLimitedError(time.Second/rateRefill))
}
