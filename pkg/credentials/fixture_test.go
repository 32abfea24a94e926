package credentials

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/rbac"
	"github.com/alshuail/portal-access/pkg/storage"
)

var day0 = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

const strongSecret = "Diwaniya2026"

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

// stubSearcher returns canned events and remembers the last filter
type stubSearcher struct {
	events []*audit.Event
	err    error
	filter audit.SearchFilter
}

func (s *stubSearcher) Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error) {
	s.filter = filter
	return s.events, s.err
}

type fixture struct {
	dir      *auth.SQLDirectory
	store    Store
	gate     *Gate
	audit    *recordingAudit
	searcher *stubSearcher
	now      time.Time

	adminID  string
	memberID string
}

// newFixture wires a gate over SQLite with a super admin and a user_member
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := rbac.NewSQLiteTestDB(t)
	roles := rbac.NewSQLStore(db, storage.DialectSQLite)
	guard := rbac.NewGuard(rbac.NewResolver(roles, rbac.DefaultCatalog(), nil), rbac.DefaultRoutes(), nil)

	f := &fixture{
		dir:      auth.NewSQLDirectory(db),
		store:    NewSQLStore(db, storage.DialectSQLite),
		audit:    &recordingAudit{},
		searcher: &stubSearcher{},
		now:      day0,
	}
	f.gate = NewGate(guard, f.dir, f.store, NewBcryptHasher(bcrypt.MinCost), DefaultPolicy(),
		WithAuditLogger(f.audit),
		WithEventSearcher(f.searcher, 5),
		WithClock(func() time.Time { return f.now }),
	)

	f.adminID = f.createPrincipal(t, "Admin Alshuail")
	f.memberID = f.createPrincipal(t, "Member Alshuail")
	for id, role := range map[string]rbac.RoleID{f.adminID: rbac.RoleSuperAdmin, f.memberID: rbac.RoleUserMember} {
		_, err := roles.Grant(ctx, rbac.GrantParams{
			PrincipalID: id,
			RoleID:      role,
			Window:      rbac.Window{Start: day0.AddDate(0, 0, -7)},
			GrantedBy:   "seed",
			Now:         day0.AddDate(0, 0, -7),
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) createPrincipal(t *testing.T, name string) string {
	t.Helper()
	p := &auth.Principal{DisplayName: name}
	require.NoError(t, f.dir.CreatePrincipal(context.Background(), p))
	return p.ID
}
