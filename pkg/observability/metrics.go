package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Access decisions
	GuardDecisionsTotal *prometheus.CounterVec
	ResolveDuration     prometheus.Histogram
	ResolveErrorsTotal  prometheus.Counter

	// Mutations
	RoleMutationsTotal        *prometheus.CounterVec
	CredentialOperationsTotal *prometheus.CounterVec

	// Directory cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Gauges refreshed from the store
	ActiveAssignments *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "access_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "access_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_guard_decisions_total",
				Help: "Guard decisions by outcome and requirement kind",
			},
			[]string{"decision", "requirement"},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "access_resolve_duration_seconds",
				Help:    "Time spent resolving a principal's effective permissions",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ResolveErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "access_resolve_errors_total",
				Help: "Permission resolutions that failed",
			},
		),

		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_role_mutations_total",
				Help: "Role grants and revocations by result",
			},
			[]string{"operation", "result"},
		),
		CredentialOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_credential_operations_total",
				Help: "Password create, reset and delete operations by result",
			},
			[]string{"operation", "result"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "access_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "access_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		ActiveAssignments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "access_active_assignments",
				Help: "Role assignments currently in force, by role",
			},
			[]string{"role"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.GuardDecisionsTotal,
		m.ResolveDuration,
		m.ResolveErrorsTotal,
		m.RoleMutationsTotal,
		m.CredentialOperationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.ActiveAssignments,
	)

	return m
}

// RecordGuardDecision counts one guard outcome
func (m *Metrics) RecordGuardDecision(decision, requirement string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(decision, requirement).Inc()
}

// ObserveResolve records how long a resolution took and whether it failed
func (m *Metrics) ObserveResolve(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(d.Seconds())
	if err != nil {
		m.ResolveErrorsTotal.Inc()
	}
}

// RecordRoleMutation counts a grant or revoke attempt
func (m *Metrics) RecordRoleMutation(operation, result string) {
	if m == nil {
		return
	}
	m.RoleMutationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordCredentialOperation counts a credential gate operation
func (m *Metrics) RecordCredentialOperation(operation, result string) {
	if m == nil {
		return
	}
	m.CredentialOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordCacheLookup counts a hit or a miss on the named cache
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

// SetActiveAssignments replaces the per-role active assignment gauge
func (m *Metrics) SetActiveAssignments(counts map[string]int) {
	if m == nil {
		return
	}
	m.ActiveAssignments.Reset()
	for role, n := range counts {
		m.ActiveAssignments.WithLabelValues(role).Set(float64(n))
	}
}

// UpdateDBStats copies pool statistics into the connection gauges
func (m *Metrics) UpdateDBStats(inUse, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(inUse))
	m.DBConnectionsIdle.Set(float64(idle))
}

// ResultLabel maps an error to the "result" label used by mutation counters
func ResultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
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
// pathLabel maps a request to a bounded label, typically the route template;
// when nil the raw URL path is used.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
