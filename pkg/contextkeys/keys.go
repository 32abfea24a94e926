// Package contextkeys holds the request-context keys shared between packages
// that cannot import each other.
//
// Package-private keys stay with their package (observability request and
// principal IDs, the audit logger). Only keys read in one package and written
// in another belong here.
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: rbac.PermissionMiddleware and the /api/access handlers
	AuthKey Key = "auth_context"

	// RequestStartTimeKey contains the time.Time the request was received
	// Set by: httputil.RequestIDMiddleware
	// Used by: httputil.LoggingMiddleware
	RequestStartTimeKey Key = "request_start_time"
)

// WithAuth adds authentication context to the context. The value is untyped
// so that this package does not depend on pkg/auth.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestStartTime records when the request was received
func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

// GetRequestStartTime returns the request start time and whether it was set
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return start, ok
}
