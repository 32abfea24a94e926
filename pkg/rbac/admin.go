package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/observability"
)

// GrantRequest is the input of AdminService.Grant. A nil StartsAt means now,
// a nil ExpiresAt an open-ended assignment.
type GrantRequest struct {
	PrincipalID string     `json:"principal_id"`
	RoleID      RoleID     `json:"role_id"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// PrincipalAssignments groups the active assignments of one principal
type PrincipalAssignments struct {
	PrincipalID string           `json:"principal_id"`
	DisplayName string           `json:"display_name,omitempty"`
	Assignments []RoleAssignment `json:"assignments"`
}

// MyRoles is the caller's own view of its access
type MyRoles struct {
	PrincipalID    string           `json:"principal_id"`
	Category       RoleCategory     `json:"category"`
	Roles          []*Role          `json:"roles"`
	Assignments    []RoleAssignment `json:"assignments"`
	Permissions    PermissionSet    `json:"permissions"`
	AllPermissions bool             `json:"all_permissions"`
	Home           string           `json:"home"`
}

// AdminService is the administrative mutation API over role assignments.
// Every operation except MyRoles and BootstrapSuperAdmin requires roles:manage.
type AdminService struct {
	guard       *Guard
	store       Store
	directory   auth.Directory
	catalog     *Catalog
	audit       audit.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	now         func() time.Time
}

// AdminOption configures an AdminService
type AdminOption func(*AdminService)

// WithAuditLogger sets the sink for grant and revoke events
func WithAuditLogger(l audit.Logger) AdminOption {
	return func(s *AdminService) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithMetrics sets the Prometheus and OpenTelemetry recorders. Either may be nil.
func WithMetrics(m *observability.Metrics, om *observability.OTelMetrics) AdminOption {
	return func(s *AdminService) {
		s.metrics = m
		s.otelMetrics = om
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) AdminOption {
	return func(s *AdminService) {
		s.now = now
	}
}

// NewAdminService creates the administrative API. The guard must evaluate
// against the same store.
func NewAdminService(guard *Guard, store Store, directory auth.Directory, opts ...AdminOption) *AdminService {
	s := &AdminService{
		guard:     guard,
		store:     store,
		directory: directory,
		catalog:   guard.resolver.Catalog(),
		audit:     audit.NopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the role catalog the service validates against
func (s *AdminService) Catalog() *Catalog {
	return s.catalog
}

func (s *AdminService) authorize(ctx context.Context, actorID string, now time.Time) error {
	d, err := s.guard.Check(ctx, actorID, HasPermission(PermissionManageRoles), now)
	if err != nil {
		return err
	}
	if !d.Allowed() {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, PermissionManageRoles)
	}
	return nil
}

// Grant assigns a role to a principal and returns the principal's active
// assignments afterwards. Validation failures are returned as the sentinel
// errors of this package, unwrapped by errors.Is.
func (s *AdminService) Grant(ctx context.Context, actorID string, req GrantRequest) ([]RoleAssignment, error) {
	ctx, span := tracer.Start(ctx, "rbac.AdminService.Grant")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", actorID),
		attribute.String("principal.id", req.PrincipalID),
		attribute.String("role.id", string(req.RoleID)),
	)

	now := s.now().UTC()
	assignment, err := s.grant(ctx, actorID, req, now)
	s.recordMutation(ctx, "grant", err)

	event := audit.NewEvent(ctx, audit.EventTypeRoleGrant, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.TargetID = req.PrincipalID
	event.ResourceType = audit.ResourceTypeRoleAssignment
	event.Metadata["role_id"] = string(req.RoleID)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			event.Status = audit.EventStatusDenied
		}
		event.WithError(err)
		audit.Record(ctx, s.audit, event)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	event.ResourceID = assignment.ID
	event.Message = fmt.Sprintf("granted %s to %s", req.RoleID, req.PrincipalID)
	event.Changes = &audit.ChangeDetails{After: assignmentFields(assignment)}
	audit.Record(ctx, s.audit, event)

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"actor_id":      actorID,
		"principal_id":  req.PrincipalID,
		"role_id":       string(req.RoleID),
		"assignment_id": assignment.ID,
	}).Info("Role granted")

	return s.store.ListActiveAssignments(ctx, req.PrincipalID, now)
}

func (s *AdminService) grant(ctx context.Context, actorID string, req GrantRequest, now time.Time) (*RoleAssignment, error) {
	if err := s.authorize(ctx, actorID, now); err != nil {
		return nil, err
	}
	if err := s.requireActivePrincipal(ctx, req.PrincipalID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetRole(req.RoleID); err != nil {
		return nil, err
	}

	window := Window{Start: now, End: req.ExpiresAt}
	if req.StartsAt != nil {
		window.Start = req.StartsAt.UTC()
	}
	if !window.Valid() {
		return nil, fmt.Errorf("%w: expiry must be after start", ErrInvalidWindow)
	}

	return s.store.Grant(ctx, GrantParams{
		PrincipalID: req.PrincipalID,
		RoleID:      req.RoleID,
		Window:      window,
		GrantedBy:   actorID,
		Notes:       strings.TrimSpace(req.Notes),
		Now:         now,
	})
}

func (s *AdminService) requireActivePrincipal(ctx context.Context, principalID string) error {
	if principalID == "" {
		return ErrPrincipalNotFound
	}
	p, err := auth.FreshPrincipal(ctx, s.directory, principalID)
	if errors.Is(err, auth.ErrPrincipalNotFound) {
		return fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
	}
	if err != nil {
		return storageErr("get principal", err)
	}
	if !p.IsActive() {
		return fmt.Errorf("%w: %s", ErrPrincipalInactive, principalID)
	}
	return nil
}

// Revoke ends an assignment and returns the affected principal's active
// assignments afterwards. Revoking an already revoked assignment succeeds.
func (s *AdminService) Revoke(ctx context.Context, actorID, assignmentID string) ([]RoleAssignment, error) {
	ctx, span := tracer.Start(ctx, "rbac.AdminService.Revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("actor.id", actorID),
		attribute.String("assignment.id", assignmentID),
	)

	now := s.now().UTC()
	before, after, err := s.revoke(ctx, actorID, assignmentID, now)
	s.recordMutation(ctx, "revoke", err)

	event := audit.NewEvent(ctx, audit.EventTypeRoleRevoke, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.ResourceType = audit.ResourceTypeRoleAssignment
	event.ResourceID = assignmentID
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			event.Status = audit.EventStatusDenied
		}
		event.WithError(err)
		audit.Record(ctx, s.audit, event)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	event.TargetID = after.PrincipalID
	event.Metadata["role_id"] = string(after.RoleID)
	event.Metadata["already_revoked"] = before.RevokedAt != nil
	event.Message = fmt.Sprintf("revoked %s from %s", after.RoleID, after.PrincipalID)
	event.Changes = &audit.ChangeDetails{Before: assignmentFields(before), After: assignmentFields(after)}
	audit.Record(ctx, s.audit, event)

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"actor_id":      actorID,
		"principal_id":  after.PrincipalID,
		"role_id":       string(after.RoleID),
		"assignment_id": assignmentID,
	}).Info("Role revoked")

	return s.store.ListActiveAssignments(ctx, after.PrincipalID, now)
}

func (s *AdminService) revoke(ctx context.Context, actorID, assignmentID string, now time.Time) (*RoleAssignment, *RoleAssignment, error) {
	if err := s.authorize(ctx, actorID, now); err != nil {
		return nil, nil, err
	}
	before, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	after, err := s.store.Revoke(ctx, assignmentID, actorID, now)
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

// ListRoles returns the catalog in priority order
func (s *AdminService) ListRoles(ctx context.Context, actorID string) ([]*Role, error) {
	if err := s.authorize(ctx, actorID, s.now().UTC()); err != nil {
		return nil, err
	}
	return s.catalog.Roles(), nil
}

// SearchPrincipals finds assignment targets by name, email or phone
func (s *AdminService) SearchPrincipals(ctx context.Context, actorID, query string, limit int) ([]*auth.Principal, error) {
	if err := s.authorize(ctx, actorID, s.now().UTC()); err != nil {
		return nil, err
	}
	out, err := s.directory.SearchPrincipals(ctx, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, storageErr("search principals", err)
	}
	return out, nil
}

// ListPrincipalAssignments returns the principal's active assignments, or its
// whole history including expired and revoked ones when history is set
func (s *AdminService) ListPrincipalAssignments(ctx context.Context, actorID, principalID string, history bool) ([]RoleAssignment, error) {
	now := s.now().UTC()
	if err := s.authorize(ctx, actorID, now); err != nil {
		return nil, err
	}
	if history {
		return s.store.ListAssignments(ctx, principalID)
	}
	return s.store.ListActiveAssignments(ctx, principalID, now)
}

// ListAllActive returns every active assignment grouped by principal. The
// per-role counts are published to the active assignments gauge.
func (s *AdminService) ListAllActive(ctx context.Context, actorID string) ([]PrincipalAssignments, error) {
	now := s.now().UTC()
	if err := s.authorize(ctx, actorID, now); err != nil {
		return nil, err
	}

	all, err := s.store.ListAllActive(ctx, now)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	var groups []PrincipalAssignments
	index := make(map[string]int)
	for _, a := range all {
		counts[string(a.RoleID)]++
		i, ok := index[a.PrincipalID]
		if !ok {
			i = len(groups)
			index[a.PrincipalID] = i
			groups = append(groups, PrincipalAssignments{PrincipalID: a.PrincipalID})
		}
		groups[i].Assignments = append(groups[i].Assignments, a)
	}
	s.metrics.SetActiveAssignments(counts)

	for i := range groups {
		p, err := s.directory.GetPrincipal(ctx, groups[i].PrincipalID)
		if err == nil {
			groups[i].DisplayName = p.DisplayName
		}
	}
	return groups, nil
}

// MyRoles returns the caller's active roles and merged permissions. Any
// authenticated principal may ask about itself.
func (s *AdminService) MyRoles(ctx context.Context, principalID string) (*MyRoles, error) {
	if principalID == "" {
		return nil, ErrPermissionDenied
	}
	res, err := s.guard.resolver.Evaluate(ctx, principalID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	out := &MyRoles{
		PrincipalID:    principalID,
		Category:       res.Category(),
		Roles:          res.Roles,
		Assignments:    res.Assignments,
		Permissions:    res.Permissions,
		AllPermissions: res.AllPermissions,
	}
	if res.HasAnyRole() {
		out.Home = s.guard.Routes().HomeFor(res.Category())
	}
	if out.Roles == nil {
		out.Roles = []*Role{}
	}
	if out.Assignments == nil {
		out.Assignments = []RoleAssignment{}
	}
	return out, nil
}

// BootstrapSuperAdmin grants the first all-permissions role without a guard
// check. It fails with ErrAlreadyBootstrapped once any principal holds such a role.
func (s *AdminService) BootstrapSuperAdmin(ctx context.Context, principalID string) (*RoleAssignment, error) {
	now := s.now().UTC()
	assignment, err := s.bootstrap(ctx, principalID, now)
	s.recordMutation(ctx, "bootstrap", err)

	event := audit.NewEvent(ctx, audit.EventTypeBootstrap, audit.EventStatusSuccess)
	event.TargetID = principalID
	event.ResourceType = audit.ResourceTypeRoleAssignment
	if err != nil {
		event.WithError(err)
		audit.Record(ctx, s.audit, event)
		return nil, err
	}
	event.ResourceID = assignment.ID
	event.Metadata["role_id"] = string(assignment.RoleID)
	event.Message = "bootstrapped " + string(assignment.RoleID)
	audit.Record(ctx, s.audit, event)
	return assignment, nil
}

func (s *AdminService) bootstrap(ctx context.Context, principalID string, now time.Time) (*RoleAssignment, error) {
	var superRole *Role
	for _, role := range s.catalog.Roles() {
		if role.ImplicatesAll {
			superRole = role
			break
		}
	}
	if superRole == nil {
		return nil, fmt.Errorf("%w: no role implicates all permissions", ErrRoleNotFound)
	}

	all, err := s.store.ListAllActive(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		role, err := s.catalog.GetRole(a.RoleID)
		if err == nil && role.ImplicatesAll {
			return nil, fmt.Errorf("%w: held by %s", ErrAlreadyBootstrapped, a.PrincipalID)
		}
	}

	if err := s.requireActivePrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	return s.store.Grant(ctx, GrantParams{
		PrincipalID: principalID,
		RoleID:      superRole.ID,
		Window:      Window{Start: now},
		GrantedBy:   "bootstrap",
		Notes:       "initial super admin",
		Now:         now,
	})
}

func (s *AdminService) recordMutation(ctx context.Context, op string, err error) {
	s.metrics.RecordRoleMutation(op, observability.ResultLabel(err))
	s.otelMetrics.RecordRoleMutation(ctx, op, err)
}

func assignmentFields(a *RoleAssignment) map[string]interface{} {
	if a == nil {
		return nil
	}
	fields := map[string]interface{}{
		"principal_id": a.PrincipalID,
		"role_id":      string(a.RoleID),
		"granted_at":   a.GrantedAt,
	}
	if a.ExpiresAt != nil {
		fields["expires_at"] = *a.ExpiresAt
	}
	if a.RevokedAt != nil {
		fields["revoked_at"] = *a.RevokedAt
	}
	return fields
}
