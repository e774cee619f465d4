package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every custom metric exported by the console
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Remote user API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Query cache Metrics
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	FetchRetriesTotal  *prometheus.CounterVec
	FetchFailuresTotal *prometheus.CounterVec

	// Console Metrics
	MutationsTotal *prometheus.CounterVec
	SessionsActive prometheus.Gauge

	// Queue (RabbitMQ) Metrics
	QueueMessagesPublished *prometheus.CounterVec
	QueueMessagesConsumed  *prometheus.CounterVec
}

// NewMetrics registers the metric set with the default registry
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP Metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Remote user API Metrics
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_api_requests_total",
				Help: "Total number of requests sent to the user API",
			},
			[]string{"operation", "status"}, // status: HTTP code or "error"
		),

		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "console_api_request_duration_seconds",
				Help:    "Duration of user API requests in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		// Query cache Metrics
		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"query"},
		),

		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"query"},
		),

		FetchRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_fetch_retries_total",
				Help: "Total number of fetch retries after a transient failure",
			},
			[]string{"query"},
		),

		FetchFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_fetch_failures_total",
				Help: "Total number of fetches that failed after all retries",
			},
			[]string{"query"},
		),

		// Console Metrics
		MutationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_mutations_total",
				Help: "Total number of create, update and delete actions",
			},
			[]string{"action", "result"}, // result: success, failed, rejected
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_sessions_active",
				Help: "Number of console sessions held in memory",
			},
		),

		// Queue Metrics
		QueueMessagesPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_messages_published_total",
				Help: "Total number of messages published to the exchange",
			},
			[]string{"exchange"},
		),

		QueueMessagesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_messages_consumed_total",
				Help: "Total number of messages consumed from the exchange",
			},
			[]string{"exchange"},
		),
	}
}

// GlobalMetrics is registered once at package load so tests and binaries share it
var GlobalMetrics = NewMetrics()
