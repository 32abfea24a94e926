package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/contextkeys"
	"github.com/alshuail/portal-access/pkg/observability"
)

// stubSource maps tokens to outcomes
type stubSource struct {
	principals map[string]*auth.Principal
	err        error
}

func (s *stubSource) Authenticate(ctx context.Context, token string) (*auth.AuthContext, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.principals[token]
	if !ok {
		return nil, auth.ErrInvalidSession
	}
	return &auth.AuthContext{Principal: p}, nil
}

func newStubSource() *stubSource {
	return &stubSource{principals: map[string]*auth.Principal{
		"good-token": {ID: "p-1", DisplayName: "Sara", Status: auth.StatusActive},
	}}
}

// captureHandler records the principal it saw
func captureHandler(seen *string, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		*seen = PrincipalID(r)
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_Handler(t *testing.T) {
	tests := []struct {
		name       string
		optional   bool
		setup      func(r *http.Request)
		wantStatus int
		wantCalled bool
		wantID     string
	}{
		{
			name:       "bearer token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantID:     "p-1",
		},
		{
			name:       "lower-case scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "bearer good-token") },
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantID:     "p-1",
		},
		{
			name:       "session cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "good-token"}) },
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantID:     "p-1",
		},
		{
			name:       "missing token when required",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing token when optional",
			optional:   true,
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "malformed header",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown token even when optional",
			optional:   true,
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer stale-token") },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			var called bool
			handler := NewAuthMiddleware(newStubSource(), tt.optional).Handler(captureHandler(&seen, &called))

			req := httptest.NewRequest(http.MethodGet, "/api/access/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, tt.wantID, seen)
			if rec.Code == http.StatusUnauthorized {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestAuthMiddleware_SuspendedPrincipal(t *testing.T) {
	source := &stubSource{err: auth.ErrPrincipalSuspended}
	var called bool
	var seen string
	handler := NewAuthMiddleware(source, false).Handler(captureHandler(&seen, &called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_SourceFailure(t *testing.T) {
	source := &stubSource{err: errors.New("redis: connection refused")}
	var called bool
	var seen string
	handler := NewAuthMiddleware(source, false).Handler(captureHandler(&seen, &called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer any")
	ctx := observability.WithLogger(req.Context(), observability.NewLogger(observability.ErrorLevel, &discard{}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestAuthMiddleware_SetsLoggingIdentity(t *testing.T) {
	var principalID string
	handler := NewAuthMiddleware(newStubSource(), false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principalID = observability.GetPrincipalID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "p-1", principalID)
}

func TestGetAuthContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetAuthContext(req))
	assert.Equal(t, "", PrincipalID(req))

	wrongType := req.WithContext(contextkeys.WithAuth(req.Context(), "not an auth context"))
	assert.Nil(t, GetAuthContext(wrongType))

	authCtx := &auth.AuthContext{Principal: &auth.Principal{ID: "p-9"}}
	withAuth := req.WithContext(contextkeys.WithAuth(req.Context(), authCtx))
	require.NotNil(t, GetAuthContext(withAuth))
	assert.Equal(t, "p-9", PrincipalID(withAuth))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
