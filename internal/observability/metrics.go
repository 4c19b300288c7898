package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Control API request rate by route template and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// Control API latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Control API requests denied by the rate limiter.
	RateLimitDeniedTotal prometheus.Counter

	// Relay calls per endpoint (current, forecast) and outcome. One per attempt.
	RelayCallsTotal *prometheus.CounterVec

	// Relay latency per attempt. Watch for: p95 creeping toward the client timeout.
	RelayDuration *prometheus.HistogramVec

	// Retry attempts beyond the first. High values = unstable relay.
	RelayRetriesTotal *prometheus.CounterVec

	// Cache lookups by data kind and result (hit, miss, expired).
	CacheLookupsTotal *prometheus.CounterVec

	// Stale values served after a failed refresh. Watch for: sustained growth means freshness is broken.
	StaleServesTotal *prometheus.CounterVec

	// Age of stale values when served.
	StaleAgeSeconds prometheus.Histogram

	// Cache errors by operation (get, put, delete, flush).
	CacheErrorsTotal *prometheus.CounterVec

	// Invalidations by scope (city, all) and trigger (manual, refresh).
	CacheInvalidationsTotal *prometheus.CounterVec

	// Bus emissions per topic.
	EventsEmittedTotal *prometheus.CounterVec

	// Subscriber handlers that panicked during emission.
	EventHandlerPanicsTotal *prometheus.CounterVec

	// City selections whose results were discarded because a newer selection superseded them.
	SupersededFetchesTotal prometheus.Counter

	// Cache warming runs and failures.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter
	CacheWarmingDuration    prometheus.Histogram
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of control API requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Control API latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of control API requests denied by the rate limiter (429)",
		},
	)
	RelayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayCallsTotal",
			Help: "Total number of relay HTTP attempts",
		},
		[]string{"endpoint", "status"},
	)
	RelayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayDurationSeconds",
			Help:    "Relay latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	RelayRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayRetriesTotal",
			Help: "Total number of relay retry attempts",
		},
		[]string{"endpoint"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Cache lookups by data kind and result",
		},
		[]string{"kind", "result"},
	)
	StaleServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleServesTotal",
			Help: "Stale cache values returned after a failed refresh",
		},
		[]string{"kind"},
	)
	StaleAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleAgeSeconds",
			Help:    "Age of stale cache values when served",
			Buckets: []float64{60, 600, 3600, 2 * 3600, 6 * 3600, 24 * 3600},
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"kind", "operation"},
	)
	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheInvalidationsTotal",
			Help: "Cache invalidations by scope and trigger",
		},
		[]string{"scope", "trigger"},
	)
	EventsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsEmittedTotal",
			Help: "Event bus emissions per topic",
		},
		[]string{"topic"},
	)
	EventHandlerPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventHandlerPanicsTotal",
			Help: "Subscriber handlers that panicked during emission",
		},
		[]string{"topic"},
	)
	SupersededFetchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supersededFetchesTotal",
			Help: "City fetches discarded because a newer selection superseded them",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed city",
		},
	)
	CacheWarmingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, RateLimitDeniedTotal,
		RelayCallsTotal, RelayDuration, RelayRetriesTotal,
		CacheLookupsTotal, StaleServesTotal, StaleAgeSeconds, CacheErrorsTotal, CacheInvalidationsTotal,
		EventsEmittedTotal, EventHandlerPanicsTotal, SupersededFetchesTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDuration,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
