package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshuail/portal-access/pkg/observability"
)

// countingDirectory serves a fixed set of principals and counts lookups
type countingDirectory struct {
	principals map[string]*Principal
	gets       atomic.Int32
	delay      time.Duration
}

func (d *countingDirectory) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	d.gets.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	p, ok := d.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *countingDirectory) SearchPrincipals(ctx context.Context, query string, limit int) ([]*Principal, error) {
	return nil, nil
}

func newCountingDirectory() *countingDirectory {
	return &countingDirectory{principals: map[string]*Principal{
		"p-1": {ID: "p-1", DisplayName: "Sara", Status: StatusActive},
	}}
}

func TestCachedDirectory_CachesLookups(t *testing.T) {
	backend := newCountingDirectory()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	cached := NewCachedDirectory(backend, 10, time.Minute, metrics)

	for i := 0; i < 3; i++ {
		p, err := cached.GetPrincipal(context.Background(), "p-1")
		require.NoError(t, err)
		assert.Equal(t, "Sara", p.DisplayName)
	}
	assert.Equal(t, int32(1), backend.gets.Load())
	assert.Equal(t, 1, cached.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues(directoryCacheName)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues(directoryCacheName)))
}

func TestCachedDirectory_ReturnsCopies(t *testing.T) {
	cached := NewCachedDirectory(newCountingDirectory(), 10, time.Minute, nil)

	p, err := cached.GetPrincipal(context.Background(), "p-1")
	require.NoError(t, err)
	p.Status = StatusSuspended

	again, err := cached.GetPrincipal(context.Background(), "p-1")
	require.NoError(t, err)
	assert.True(t, again.IsActive())
}

func TestCachedDirectory_Invalidate(t *testing.T) {
	backend := newCountingDirectory()
	cached := NewCachedDirectory(backend, 10, time.Minute, nil)

	_, err := cached.GetPrincipal(context.Background(), "p-1")
	require.NoError(t, err)
	cached.Invalidate("p-1")
	_, err = cached.GetPrincipal(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.gets.Load())
}

func TestCachedDirectory_DoesNotCacheMisses(t *testing.T) {
	backend := newCountingDirectory()
	cached := NewCachedDirectory(backend, 10, time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := cached.GetPrincipal(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrPrincipalNotFound)
	}
	assert.Equal(t, int32(2), backend.gets.Load())
	assert.Zero(t, cached.Len())
}

func TestCachedDirectory_CollapsesConcurrentMisses(t *testing.T) {
	backend := newCountingDirectory()
	backend.delay = 50 * time.Millisecond
	cached := NewCachedDirectory(backend, 10, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.GetPrincipal(context.Background(), "p-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), backend.gets.Load())
}

func TestCachedDirectory_FreshLookupSeesStatusChange(t *testing.T) {
	backend := newCountingDirectory()
	cached := NewCachedDirectory(backend, 16, time.Minute, nil)
	ctx := context.Background()

	p, err := cached.GetPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, p.IsActive())

	backend.principals["p-1"].Status = StatusSuspended

	p, err = cached.GetPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, p.IsActive(), "display lookups may serve the cached entry")

	p, err = FreshPrincipal(ctx, cached, "p-1")
	require.NoError(t, err)
	assert.False(t, p.IsActive())

	// the fresh read replaced the cached entry
	p, err = cached.GetPrincipal(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, p.IsActive())
	assert.Equal(t, int32(2), backend.gets.Load())

	delete(backend.principals, "p-1")
	_, err = FreshPrincipal(ctx, cached, "p-1")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
	assert.Equal(t, 0, cached.Len())
}

func TestSessionManager_CachedDirectoryRejectsSuspended(t *testing.T) {
	backend := newCountingDirectory()
	mgr := NewSessionManager(NewMemorySessionStore(), NewCachedDirectory(backend, 16, time.Minute, nil), time.Hour)
	ctx := context.Background()

	token, _, err := mgr.Issue(ctx, "p-1")
	require.NoError(t, err)
	_, err = mgr.Authenticate(ctx, token)
	require.NoError(t, err)

	backend.principals["p-1"].Status = StatusSuspended
	_, err = mgr.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrPrincipalSuspended)
	_, _, err = mgr.Issue(ctx, "p-1")
	assert.ErrorIs(t, err, ErrPrincipalSuspended)
}
