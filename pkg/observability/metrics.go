package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Directory metrics
	DirectoryBindsTotal *prometheus.CounterVec

	// Session metrics
	SessionsCreatedTotal  prometheus.Counter
	SessionsRejectedTotal prometheus.Counter
	SessionsActive        prometheus.Gauge

	// OAuth metrics
	TokenExchangesTotal *prometheus.CounterVec

	// Upstream call metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Audit metrics
	AuditEntriesTotal       *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Search cache metrics
	SearchCacheHitsTotal   prometheus.Counter
	SearchCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		DirectoryBindsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_directory_binds_total",
				Help: "Total number of directory bind attempts",
			},
			[]string{"outcome"},
		),
		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deskrelay_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deskrelay_sessions_rejected_total",
				Help: "Total number of requests rejected for missing or expired sessions",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deskrelay_sessions_active",
				Help: "Current number of live sessions",
			},
		),
		TokenExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_token_exchanges_total",
				Help: "Total number of OAuth authorization-code exchanges",
			},
			[]string{"outcome"},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_upstream_requests_total",
				Help: "Total number of outbound calls to external collaborators",
			},
			[]string{"target", "outcome"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskrelay_upstream_request_duration_seconds",
				Help:    "Outbound call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskrelay_audit_entries_total",
				Help: "Total number of audit entries recorded",
			},
			[]string{"module", "action"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deskrelay_audit_write_failures_total",
				Help: "Total number of audit entries dropped because the store rejected them",
			},
		),
		SearchCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deskrelay_search_cache_hits_total",
				Help: "Total number of search provider cache hits",
			},
		),
		SearchCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deskrelay_search_cache_misses_total",
				Help: "Total number of search provider cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DirectoryBindsTotal,
		m.SessionsCreatedTotal,
		m.SessionsRejectedTotal,
		m.SessionsActive,
		m.TokenExchangesTotal,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.AuditEntriesTotal,
		m.AuditWriteFailuresTotal,
		m.SearchCacheHitsTotal,
		m.SearchCacheMissesTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveUpstreamRequest records metrics for a completed outbound call
func (m *Metrics) ObserveUpstreamRequest(target string, err error, duration time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(target, outcome).Inc()
	m.UpstreamRequestDuration.WithLabelValues(target).Observe(duration.Seconds())
}
