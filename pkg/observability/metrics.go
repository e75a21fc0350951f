package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline stages used as the "stage" label
const (
	StageSession     = "session"
	StageProfile     = "profile"
	StagePermission  = "permission"
	StageEntitlement = "entitlement"
	StageRateLimit   = "ratelimit"
)

// Decision outcomes used as the "outcome" label
const (
	OutcomeAllow    = "allow"
	OutcomeDeny     = "deny"
	OutcomeError    = "error"
	OutcomeFailOpen = "fail_open"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Pipeline metrics
	AuthDecisionsTotal     *prometheus.CounterVec
	SessionRefreshesTotal  *prometheus.CounterVec
	IdPVerifyDuration      *prometheus.HistogramVec
	EntitlementChecksTotal *prometheus.CounterVec
	FailOpenTotal          *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_auth_decisions_total",
				Help: "Allow/deny decisions per middleware stage",
			},
			[]string{"stage", "outcome"},
		),
		SessionRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_session_refreshes_total",
				Help: "Refresh-token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		IdPVerifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_idp_verify_duration_seconds",
				Help:    "Identity provider verification latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
		EntitlementChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_entitlement_checks_total",
				Help: "Plan entitlement checks by registry key and outcome",
			},
			[]string{"key", "outcome"},
		),
		FailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_fail_open_total",
				Help: "Requests allowed because a lookup failed",
			},
			[]string{"component"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthDecisionsTotal,
		m.SessionRefreshesTotal,
		m.IdPVerifyDuration,
		m.EntitlementChecksTotal,
		m.FailOpenTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordDecision counts one pipeline decision. Safe on a nil receiver.
func (m *Metrics) RecordDecision(stage, outcome string) {
	if m == nil {
		return
	}
	m.AuthDecisionsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordRefresh counts one refresh-token exchange
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.SessionRefreshesTotal.WithLabelValues(outcome).Inc()
}

// ObserveVerify records identity provider latency
func (m *Metrics) ObserveVerify(transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.IdPVerifyDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// RecordEntitlement counts one entitlement check
func (m *Metrics) RecordEntitlement(key, outcome string) {
	if m == nil {
		return
	}
	m.EntitlementChecksTotal.WithLabelValues(key, outcome).Inc()
}

// RecordFailOpen counts a request allowed through a failed lookup
func (m *Metrics) RecordFailOpen(component string) {
	if m == nil {
		return
	}
	m.FailOpenTotal.WithLabelValues(component).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a bounded label (usually the route template).
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
