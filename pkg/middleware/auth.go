package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/contextkeys"
	"github.com/alshuail/portal-access/pkg/httputil"
	"github.com/alshuail/portal-access/pkg/observability"
)

// SessionCookieName is the cookie the portal front end stores the session token in
const SessionCookieName = "portal_session"

// AuthMiddleware resolves the caller through a session source
type AuthMiddleware struct {
	source   auth.SessionSource
	optional bool // If true, allow requests without a token
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(source auth.SessionSource, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		source:   source,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication. A presented but invalid
// token is rejected even when authentication is optional.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r)
		if err != nil {
			httputil.WriteUnauthorized(w, err.Error())
			return
		}
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing session token")
			return
		}

		authCtx, err := m.source.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, auth.ErrPrincipalSuspended) {
				httputil.WriteUnauthorized(w, "invalid or expired session")
				return
			}
			observability.FromContext(r.Context()).WithError(err).Error("session lookup failed")
			httputil.WriteServiceUnavailable(w, "authentication unavailable")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = observability.WithPrincipalID(ctx, authCtx.PrincipalID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads "Authorization: Bearer <token>", falling back to the session cookie
func extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.New("invalid authorization header format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value, nil
	}
	return "", nil
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return AuthFromContext(r.Context())
}

// AuthFromContext returns the authenticated caller, or nil
func AuthFromContext(ctx context.Context) *auth.AuthContext {
	authCtx, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	if !ok {
		return nil
	}
	return authCtx
}

// PrincipalID returns the caller's principal ID, or "" for anonymous requests
func PrincipalID(r *http.Request) string {
	return GetAuthContext(r).PrincipalID()
}
