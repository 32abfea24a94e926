package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/storage"
)

var day0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.Add(time.Duration(n) * 24 * time.Hour)
}

func ptr(t time.Time) *time.Time {
	return &t
}

// recordingAudit keeps every event it is given
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) byType(t audit.EventType) []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.Event
	for _, e := range r.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	dir      *auth.SQLDirectory
	store    Store
	catalog  *Catalog
	resolver *Resolver
	guard    *Guard
	admin    *AdminService
	audit    *recordingAudit
	now      time.Time

	adminID  string
	memberID string
}

// newFixture builds the engine over a migrated SQLite database with one
// super admin and one plain principal without roles. The clock is day0.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := NewSQLiteTestDB(t)
	f := &fixture{
		dir:     auth.NewSQLDirectory(db),
		store:   NewSQLStore(db, storage.DialectSQLite),
		catalog: DefaultCatalog(),
		audit:   &recordingAudit{},
		now:     day0,
	}
	f.resolver = NewResolver(f.store, f.catalog, nil)
	f.guard = NewGuard(f.resolver, DefaultRoutes(), nil)
	f.admin = NewAdminService(f.guard, f.store, f.dir,
		WithAuditLogger(f.audit),
		WithClock(func() time.Time { return f.now }),
	)

	f.adminID = f.createPrincipal(t, "Admin Alshuail")
	f.memberID = f.createPrincipal(t, "Member Alshuail")
	_, err := f.store.Grant(ctx, GrantParams{
		PrincipalID: f.adminID,
		RoleID:      RoleSuperAdmin,
		Window:      Window{Start: day(-30)},
		GrantedBy:   "seed",
		Now:         day(-30),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) createPrincipal(t *testing.T, name string) string {
	t.Helper()
	p := &auth.Principal{DisplayName: name}
	require.NoError(t, f.dir.CreatePrincipal(context.Background(), p))
	return p.ID
}
