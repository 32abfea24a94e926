package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/contextkeys"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func withPrincipal(r *http.Request, id string) *http.Request {
	authCtx := &auth.AuthContext{Principal: &auth.Principal{ID: id, Status: auth.StatusActive}}
	return r.WithContext(contextkeys.WithAuth(r.Context(), authCtx))
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		allowed, err := limiter.Allow(ctx, "principal:p-1")
		require.NoError(t, err)
		if allowed {
			allowedCount++
		}
	}
	assert.Equal(t, config.RequestsPerWindow+config.BurstSize, allowedCount)

	remaining, err := limiter.Remaining(ctx, "principal:p-1")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	// A tenth of the window refills one token
	clock.Advance(100 * time.Millisecond)
	allowed, err := limiter.Allow(ctx, "principal:p-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Refill never exceeds capacity
	clock.Advance(time.Hour)
	remaining, err = limiter.Remaining(ctx, "principal:p-1")
	require.NoError(t, err)
	assert.Zero(t, remaining, "refill happens on the next Allow")
	_, _ = limiter.Allow(ctx, "principal:p-1")
	remaining, _ = limiter.Remaining(ctx, "principal:p-1")
	assert.Equal(t, config.RequestsPerWindow+config.BurstSize-1, remaining)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = limiter.Allow(ctx, "b")
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute})
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "old")
	clock.Advance(3 * time.Minute)
	_, _ = limiter.Allow(ctx, "fresh")
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.NotContains(t, limiter.buckets, "old")
	assert.Contains(t, limiter.buckets, "fresh")
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx, nil)
	_, _ = limiter.Allow(context.Background(), "k")
	time.Sleep(50 * time.Millisecond)
	cancel()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Empty(t, limiter.buckets)
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	assert.Equal(t, DefaultRateLimitConfig(), limiter.Config())
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour})
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(context.Background(), "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestRateLimitMiddleware_KeysByPrincipalOrIP(t *testing.T) {
	principal, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	anonymous, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	handler := NewRateLimitMiddleware(principal, anonymous).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(r *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}
	anon := func(ip string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/access/principals/p-2/password", nil)
		r.RemoteAddr = ip + ":5555"
		return r
	}

	first := do(anon("198.51.100.1"))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusTooManyRequests, do(anon("198.51.100.1")).Code)
	assert.Equal(t, http.StatusOK, do(anon("198.51.100.2")).Code, "other IPs have their own bucket")

	// The same IP is unaffected once the caller is authenticated
	assert.Equal(t, http.StatusOK, do(withPrincipal(anon("198.51.100.1"), "p-1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(withPrincipal(anon("198.51.100.9"), "p-1")).Code)
}

func TestRateLimitMiddleware_ExceededHeaders(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 30 * time.Second})
	handler := NewRateLimitMiddleware(limiter, nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

// failingLimiter always errors
type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingLimiter) Remaining(ctx context.Context, key string) (int, error) { return 0, nil }
func (failingLimiter) Config() *RateLimitConfig                               { return DefaultRateLimitConfig() }

func TestRateLimitMiddleware_Fallback(t *testing.T) {
	m := NewRateLimitMiddleware(failingLimiter{}, nil)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "fails open by default")

	m.SetFallbackEnabled(false)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitConfigs(t *testing.T) {
	assert.Equal(t, 100, DefaultRateLimitConfig().RequestsPerWindow)
	assert.Equal(t, 1000, PerPrincipalRateLimitConfig().RequestsPerWindow)
	assert.Equal(t, 10, CredentialRateLimitConfig().RequestsPerWindow)
	assert.Zero(t, CredentialRateLimitConfig().BurstSize)
}
