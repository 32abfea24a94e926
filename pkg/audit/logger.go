package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alshuail/portal-access/pkg/observability"
)

// ErrEventNotFound is returned by Get for unknown event IDs
var ErrEventNotFound = errors.New("audit event not found")

// Logger is a sink for audit events
type Logger interface {
	// Log records the event. Sinks that assign IDs set event.ID.
	Log(ctx context.Context, event *Event) error

	// Close flushes buffered events and releases the sink
	Close() error
}

type contextKey string

const auditLoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, auditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a logger that discards events
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(auditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards every event
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                 { return nil }

// NewEvent creates an event stamped with the current time. The actor and request
// IDs are taken from ctx when present.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		ActorID:   observability.GetPrincipalID(ctx),
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// WithRequest copies the request context onto the event
func (e *Event) WithRequest(r *http.Request) *Event {
	if r == nil {
		return e
	}
	e.IPAddress = ClientIP(r)
	e.UserAgent = r.UserAgent()
	e.Method = r.Method
	e.Path = r.URL.Path
	return e
}

// WithError marks the event as failed unless it is already denied
func (e *Event) WithError(err error) *Event {
	if err == nil {
		return e
	}
	e.ErrorMessage = err.Error()
	if e.Status == EventStatusSuccess {
		e.Status = EventStatusFailure
	}
	return e
}

// Record logs event to l. A failing sink never fails the audited operation;
// the error is written to the application log instead.
func Record(ctx context.Context, l Logger, event *Event) {
	if l == nil || event == nil {
		return
	}
	if err := l.Log(ctx, event); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("event_type", string(event.EventType)).
			Error("failed to record audit event")
	}
}

// ClientIP returns the originating client address, honouring X-Forwarded-For
// and X-Real-IP set by a fronting proxy
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
