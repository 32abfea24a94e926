package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/alshuail/portal-access"

// OTelMetrics holds OpenTelemetry metric instruments. They are exported through
// the meter provider InitOTel installs, alongside the Prometheus registry.
type OTelMetrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	accessDecisions metric.Int64Counter
	roleMutations   metric.Int64Counter
	auditArchived   metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)

	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.server.requests counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.server.duration histogram: %w", err)
	}

	m.accessDecisions, err = meter.Int64Counter(
		"access.guard.decisions",
		metric.WithDescription("Guard decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access.guard.decisions counter: %w", err)
	}

	m.roleMutations, err = meter.Int64Counter(
		"access.role.mutations",
		metric.WithDescription("Role grants and revocations"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access.role.mutations counter: %w", err)
	}

	m.auditArchived, err = meter.Int64Counter(
		"access.audit.archived",
		metric.WithDescription("Audit events shipped to the archive"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access.audit.archived counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one served request
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDecision records a guard outcome
func (m *OTelMetrics) RecordDecision(ctx context.Context, decision, requirement string) {
	if m == nil {
		return
	}
	m.accessDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("access.decision", decision),
		attribute.String("access.requirement", requirement),
	))
}

// RecordRoleMutation records a grant or revoke attempt
func (m *OTelMetrics) RecordRoleMutation(ctx context.Context, operation string, err error) {
	if m == nil {
		return
	}
	m.roleMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("access.operation", operation),
		attribute.Bool("error", err != nil),
	))
}

// RecordAuditArchived records how many events an archive run shipped
func (m *OTelMetrics) RecordAuditArchived(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.auditArchived.Add(ctx, int64(count))
}

// Middleware records request count and latency under the route returned by pathLabel
func (m *OTelMetrics) Middleware(pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if pathLabel != nil {
				route = pathLabel(r)
			}
			m.RecordHTTPRequest(r.Context(), r.Method, route, rw.statusCode, time.Since(start))
		})
	}
}
