package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
)

func TestAdminService_GrantThenGuardAllows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := AnyOfRoles(RoleFamilyTreeAdmin)

	before, err := f.guard.Check(ctx, f.memberID, req, day0)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, before.Kind)

	active, err := f.admin.Grant(ctx, f.adminID, GrantRequest{
		PrincipalID: f.memberID,
		RoleID:      RoleFamilyTreeAdmin,
		Notes:       "  maintains the tree  ",
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, RoleFamilyTreeAdmin, active[0].RoleID)
	assert.Equal(t, f.adminID, active[0].GrantedBy)
	assert.Equal(t, "maintains the tree", active[0].Notes)
	assert.True(t, active[0].GrantedAt.Equal(day0))

	after, err := f.guard.Check(ctx, f.memberID, req, day0)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, after.Kind)

	events := f.audit.byType(audit.EventTypeRoleGrant)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventStatusSuccess, events[0].Status)
	assert.Equal(t, f.adminID, events[0].ActorID)
	assert.Equal(t, f.memberID, events[0].TargetID)
	assert.Equal(t, active[0].ID, events[0].ResourceID)
	assert.Equal(t, "family_tree_admin", events[0].Metadata["role_id"])
}

func TestAdminService_GrantValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	suspended := f.createPrincipal(t, "Suspended Alshuail")
	require.NoError(t, f.dir.SetStatus(ctx, suspended, auth.StatusSuspended))

	_, err := f.admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleUserMember})
	require.NoError(t, err)

	tests := []struct {
		name  string
		actor string
		req   GrantRequest
		want  error
	}{
		{"actor without manage roles", f.memberID, GrantRequest{PrincipalID: f.adminID, RoleID: RoleSuperAdmin}, ErrPermissionDenied},
		{"anonymous actor", "", GrantRequest{PrincipalID: f.memberID, RoleID: RoleFamilyTreeAdmin}, ErrPermissionDenied},
		{"unknown principal", f.adminID, GrantRequest{PrincipalID: "ghost", RoleID: RoleUserMember}, ErrPrincipalNotFound},
		{"empty principal", f.adminID, GrantRequest{RoleID: RoleUserMember}, ErrPrincipalNotFound},
		{"suspended principal", f.adminID, GrantRequest{PrincipalID: suspended, RoleID: RoleUserMember}, ErrPrincipalInactive},
		{"unknown role", f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: "treasurer"}, ErrRoleNotFound},
		{"expiry before start", f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleFinancialManager, StartsAt: ptr(day(5)), ExpiresAt: ptr(day(1))}, ErrInvalidWindow},
		{"expiry equal to start", f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleFinancialManager, ExpiresAt: ptr(day0)}, ErrInvalidWindow},
		{"duplicate active role", f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleUserMember}, ErrDuplicateActiveRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.admin.Grant(ctx, tt.actor, tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "want %v, got %v", tt.want, err)
			for _, other := range []error{ErrPermissionDenied, ErrPrincipalNotFound, ErrPrincipalInactive, ErrRoleNotFound, ErrInvalidWindow, ErrDuplicateActiveRole} {
				if other != tt.want {
					assert.False(t, errors.Is(err, other), "%v must not match %v", err, other)
				}
			}
		})
	}

	denied := f.audit.byType(audit.EventTypeRoleGrant)
	var deniedCount int
	for _, e := range denied {
		if e.Status == audit.EventStatusDenied {
			deniedCount++
		}
	}
	assert.Equal(t, 2, deniedCount)
}

func TestAdminService_PermissionCheckedBeforeValidation(t *testing.T) {
	f := newFixture(t)

	// a non-admin learns nothing about whether the target exists
	_, err := f.admin.Grant(context.Background(), f.memberID, GrantRequest{PrincipalID: "ghost", RoleID: "treasurer"})
	assert.True(t, errors.Is(err, ErrPermissionDenied))
}

func TestAdminService_FutureDatedGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.admin.Grant(ctx, f.adminID, GrantRequest{
		PrincipalID: f.memberID,
		RoleID:      RoleFinancialManager,
		StartsAt:    ptr(day(3)),
		ExpiresAt:   ptr(day(10)),
	})
	require.NoError(t, err)
	assert.Empty(t, active, "a pending assignment is not active yet")

	history, err := f.admin.ListPrincipalAssignments(ctx, f.adminID, f.memberID, true)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, AssignmentPending, history[0].Status(day0))

	perms, err := f.resolver.Resolve(ctx, f.memberID, day(5))
	require.NoError(t, err)
	assert.True(t, perms.Has(Permission{Resource: ResourceFinances, Action: ActionManage}))

	perms, err = f.resolver.Resolve(ctx, f.memberID, day(15))
	require.NoError(t, err)
	assert.True(t, perms.IsEmpty())
}

func TestAdminService_Revoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleUserMember})
	require.NoError(t, err)
	active, err := f.admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleOccasionsAdmin})
	require.NoError(t, err)
	require.Len(t, active, 2)

	var occasionsID string
	for _, a := range active {
		if a.RoleID == RoleOccasionsAdmin {
			occasionsID = a.ID
		}
	}

	_, err = f.admin.Revoke(ctx, f.memberID, occasionsID)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	f.now = day(1)
	remaining, err := f.admin.Revoke(ctx, f.adminID, occasionsID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, RoleUserMember, remaining[0].RoleID)

	again, err := f.admin.Revoke(ctx, f.adminID, occasionsID)
	require.NoError(t, err, "revoking twice is not an error")
	assert.Len(t, again, 1)

	_, err = f.admin.Revoke(ctx, f.adminID, "missing")
	assert.True(t, errors.Is(err, ErrAssignmentNotFound))

	events := f.audit.byType(audit.EventTypeRoleRevoke)
	require.Len(t, events, 4)
	assert.Equal(t, audit.EventStatusDenied, events[0].Status)
	assert.Equal(t, audit.EventStatusSuccess, events[1].Status)
	assert.Equal(t, false, events[1].Metadata["already_revoked"])
	assert.Equal(t, true, events[2].Metadata["already_revoked"])
	assert.Equal(t, f.memberID, events[1].TargetID)
	assert.Equal(t, audit.EventStatusFailure, events[3].Status)
}

func TestAdminService_ReadOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roles, err := f.admin.ListRoles(ctx, f.adminID)
	require.NoError(t, err)
	assert.Len(t, roles, 5)
	_, err = f.admin.ListRoles(ctx, f.memberID)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	found, err := f.admin.SearchPrincipals(ctx, f.adminID, "member", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, f.memberID, found[0].ID)
	_, err = f.admin.SearchPrincipals(ctx, f.memberID, "admin", 10)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	_, err = f.admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleUserMember})
	require.NoError(t, err)

	groups, err := f.admin.ListAllActive(ctx, f.adminID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	byPrincipal := map[string]PrincipalAssignments{}
	for _, g := range groups {
		byPrincipal[g.PrincipalID] = g
	}
	assert.Equal(t, "Admin Alshuail", byPrincipal[f.adminID].DisplayName)
	assert.Len(t, byPrincipal[f.memberID].Assignments, 1)
	_, err = f.admin.ListAllActive(ctx, f.memberID)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
}

func TestAdminService_MyRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.admin.MyRoles(ctx, f.memberID)
	require.NoError(t, err)
	assert.Empty(t, mine.Roles)
	assert.True(t, mine.Permissions.IsEmpty())
	assert.Empty(t, mine.Home)

	_, err = f.admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleUserMember})
	require.NoError(t, err)
	mine, err = f.admin.MyRoles(ctx, f.memberID)
	require.NoError(t, err)
	require.Len(t, mine.Roles, 1)
	assert.Equal(t, CategoryMember, mine.Category)
	assert.Equal(t, DefaultRoutes().MemberHome, mine.Home)

	mine, err = f.admin.MyRoles(ctx, f.adminID)
	require.NoError(t, err)
	assert.True(t, mine.AllPermissions)
	assert.Equal(t, DefaultRoutes().AdminHome, mine.Home)

	_, err = f.admin.MyRoles(ctx, "")
	assert.True(t, errors.Is(err, ErrPermissionDenied))
}

func TestAdminService_BootstrapSuperAdmin(t *testing.T) {
	db := NewSQLiteTestDB(t)
	dir := auth.NewSQLDirectory(db)
	ctx := context.Background()

	memory := NewMemoryStore()
	guard := NewGuard(NewResolver(memory, DefaultCatalog(), nil), DefaultRoutes(), nil)
	recorder := &recordingAudit{}
	admin := NewAdminService(guard, memory, dir, WithAuditLogger(recorder))

	first := &auth.Principal{DisplayName: "First Admin"}
	require.NoError(t, dir.CreatePrincipal(ctx, first))
	second := &auth.Principal{DisplayName: "Second Admin"}
	require.NoError(t, dir.CreatePrincipal(ctx, second))

	_, err := admin.BootstrapSuperAdmin(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrPrincipalNotFound))

	a, err := admin.BootstrapSuperAdmin(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, a.RoleID)

	_, err = admin.BootstrapSuperAdmin(ctx, second.ID)
	assert.True(t, errors.Is(err, ErrAlreadyBootstrapped))

	d, err := guard.Check(ctx, first.ID, HasPermission(PermissionManageRoles), a.GrantedAt)
	require.NoError(t, err)
	assert.True(t, d.Allowed())

	events := recorder.byType(audit.EventTypeBootstrap)
	require.Len(t, events, 3)
	assert.Equal(t, audit.EventStatusSuccess, events[1].Status)
}

func TestAdminService_GrantChecksStatusPastDirectoryCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := NewAdminService(f.guard, f.store, auth.NewCachedDirectory(f.dir, 1024, time.Minute, nil),
		WithClock(func() time.Time { return f.now }),
	)

	_, err := admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleUserMember})
	require.NoError(t, err)

	require.NoError(t, f.dir.SetStatus(ctx, f.memberID, auth.StatusSuspended))
	_, err = admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleFamilyTreeAdmin})
	assert.ErrorIs(t, err, ErrPrincipalInactive)

	require.NoError(t, f.dir.SetStatus(ctx, f.memberID, auth.StatusActive))
	_, err = admin.Grant(ctx, f.adminID, GrantRequest{PrincipalID: f.memberID, RoleID: RoleFamilyTreeAdmin})
	assert.NoError(t, err)
}
