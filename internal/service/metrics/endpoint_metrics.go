package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	EndpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signalpipe",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of query endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	EndpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by query endpoint",
		},
		[]string{"endpoint"},
	)

	EndpointCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "api",
			Name:      "cache_total",
			Help:      "Response cache lookups by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalpipe",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client limiter",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(EndpointLatency, EndpointErrors, EndpointCache, RateLimited)
	})
}
