package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alshuail/portal-access/pkg/observability"
)

var tracer = otel.Tracer("github.com/alshuail/portal-access/pkg/rbac")

// Resolution is everything derived from one read of a principal's active assignments
type Resolution struct {
	PrincipalID string           `json:"principal_id"`
	At          time.Time        `json:"at"`
	Assignments []RoleAssignment `json:"assignments"`
	Roles       []*Role          `json:"roles"`
	Permissions PermissionSet    `json:"permissions"`

	// AllPermissions is set when an active role implicates every permission
	AllPermissions bool `json:"all_permissions"`
}

// HasAnyRole reports whether the principal holds at least one active role
func (r *Resolution) HasAnyRole() bool {
	return len(r.Roles) > 0
}

// HasRole reports whether the principal holds id among its active roles
func (r *Resolution) HasRole(id RoleID) bool {
	for _, role := range r.Roles {
		if role.ID == id {
			return true
		}
	}
	return false
}

// Category returns CategoryAdmin when any active role is an admin role
func (r *Resolution) Category() RoleCategory {
	for _, role := range r.Roles {
		if role.Category == CategoryAdmin {
			return CategoryAdmin
		}
	}
	return CategoryMember
}

// Resolver computes effective permission sets. It holds no cache: every call reads
// the store, because validity windows make the answer time dependent.
type Resolver struct {
	store   Store
	catalog *Catalog
	metrics *observability.Metrics
}

// NewResolver creates a resolver over store and catalog. metrics may be nil.
func NewResolver(store Store, catalog *Catalog, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		catalog: catalog,
		metrics: metrics,
	}
}

// Catalog returns the catalog the resolver evaluates against
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve returns the effective permission set of principalID at now.
// A principal without active assignments gets an empty set, not an error.
func (r *Resolver) Resolve(ctx context.Context, principalID string, now time.Time) (PermissionSet, error) {
	res, err := r.Evaluate(ctx, principalID, now)
	if err != nil {
		return PermissionSet{}, err
	}
	return res.Permissions, nil
}

// Evaluate reads the active assignments once and derives roles and permissions from them
func (r *Resolver) Evaluate(ctx context.Context, principalID string, now time.Time) (*Resolution, error) {
	ctx, span := tracer.Start(ctx, "rbac.Resolver.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("principal.id", principalID))

	start := time.Now()
	res, err := r.evaluate(ctx, principalID, now)
	r.metrics.ObserveResolve(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("rbac.active_roles", len(res.Roles)),
		attribute.Int("rbac.permissions", res.Permissions.Len()),
	)
	return res, nil
}

func (r *Resolver) evaluate(ctx context.Context, principalID string, now time.Time) (*Resolution, error) {
	res := &Resolution{PrincipalID: principalID, At: now, Permissions: NewPermissionSet()}
	if principalID == "" {
		return res, nil
	}

	assignments, err := r.store.ListActiveAssignments(ctx, principalID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list active assignments: %w", err)
	}

	roles, perms, all, err := EffectivePermissions(r.catalog, assignments)
	if err != nil {
		return nil, err
	}
	res.Assignments = assignments
	res.Roles = roles
	res.Permissions = perms
	res.AllPermissions = all
	return res, nil
}

// EffectivePermissions unions the permissions of the roles behind assignments.
// If any of those roles implicates all permissions the full set is returned. The
// assignments are expected to be active already; this function does not look at time.
// A stored role missing from the catalog is a *ConfigError, never ErrRoleNotFound.
func EffectivePermissions(catalog *Catalog, assignments []RoleAssignment) ([]*Role, PermissionSet, bool, error) {
	seen := make(map[RoleID]bool, len(assignments))
	var roles []*Role
	for _, a := range assignments {
		if seen[a.RoleID] {
			continue
		}
		role, err := catalog.GetRole(a.RoleID)
		if err != nil {
			return nil, PermissionSet{}, false, &ConfigError{Problems: []string{
				fmt.Sprintf("assignment %s references unknown role %q", a.ID, a.RoleID),
			}}
		}
		seen[a.RoleID] = true
		roles = append(roles, role)
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].ID < roles[j].ID
	})

	for _, role := range roles {
		if role.ImplicatesAll {
			return roles, catalog.FullPermissionSet(), true, nil
		}
	}

	var perms []Permission
	for _, role := range roles {
		perms = append(perms, role.Permissions...)
	}
	return roles, NewPermissionSet(perms...), false, nil
}
