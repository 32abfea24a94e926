package audit

import (
	"net/http"
)

// Middleware makes the audit logger available to handlers and records
// requests rejected for missing or invalid credentials.
type Middleware struct {
	logger Logger
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger) *Middleware {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Middleware{logger: logger}
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps next. Authorization outcomes are recorded by the guard itself;
// this only covers 401 responses produced before a principal is known.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), m.logger)
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.statusCode != http.StatusUnauthorized {
			return
		}
		event := NewEvent(ctx, EventTypeSessionInvalid, EventStatusDenied).WithRequest(r)
		event.ResourceType = ResourceTypeSession
		event.StatusCode = rec.statusCode
		event.Message = "request rejected: missing or invalid session"
		Record(ctx, m.logger, event)
	})
}
