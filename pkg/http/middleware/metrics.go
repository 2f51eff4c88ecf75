package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpOnce     sync.Once
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
)

func initHTTPMetrics() {
	httpOnce.Do(func() {
		httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests by route template, method and status code.",
		}, []string{"route", "method", "status"})
		httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalpipe",
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "Request latency by route template.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"})
		httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalpipe",
			Subsystem: "http",
			Name:      "in_flight",
			Help:      "Requests currently being served.",
		})
	})
}

// Metrics labels by the echo route template, never the raw path, so query
// strings and unknown URLs do not create series.
func Metrics() echo.MiddlewareFunc {
	initHTTPMetrics()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// resolve the status now; echo would otherwise write it after us
				c.Error(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Response().Status)).Inc()
			httpLatency.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
