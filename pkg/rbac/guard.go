package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alshuail/portal-access/pkg/observability"
)

// RequirementKind distinguishes the two forms of access requirement
type RequirementKind string

const (
	RequireAnyRole    RequirementKind = "any_of_roles"
	RequirePermission RequirementKind = "has_permission"
)

// Requirement declares what a route or action needs
type Requirement struct {
	Kind       RequirementKind `json:"kind"`
	Roles      []RoleID        `json:"roles,omitempty"`
	Permission Permission      `json:"permission,omitempty"`
}

// AnyOfRoles requires at least one of the given roles to be active
func AnyOfRoles(ids ...RoleID) Requirement {
	return Requirement{Kind: RequireAnyRole, Roles: ids}
}

// HasPermission requires p to be in the effective permission set
func HasPermission(p Permission) Requirement {
	return Requirement{Kind: RequirePermission, Permission: p}
}

// String renders the requirement for logs and audit records
func (r Requirement) String() string {
	switch r.Kind {
	case RequireAnyRole:
		ids := make([]string, len(r.Roles))
		for i, id := range r.Roles {
			ids[i] = string(id)
		}
		return "any_of_roles(" + strings.Join(ids, ",") + ")"
	case RequirePermission:
		return "has_permission(" + r.Permission.String() + ")"
	default:
		return "unknown"
	}
}

// SatisfiedBy evaluates the requirement against a resolution. A role that
// implicates all permissions satisfies every role requirement too.
func (r Requirement) SatisfiedBy(res *Resolution) bool {
	switch r.Kind {
	case RequirePermission:
		return res.Permissions.Has(r.Permission)
	case RequireAnyRole:
		if res.AllPermissions {
			return true
		}
		for _, id := range r.Roles {
			if res.HasRole(id) {
				return true
			}
		}
	}
	return false
}

// DecisionKind is the outcome of a guard evaluation
type DecisionKind string

const (
	DecisionAllow    DecisionKind = "allow"
	DecisionRedirect DecisionKind = "redirect"
	DecisionDeny     DecisionKind = "deny"
)

// Decision is the result of Guard.Check
type Decision struct {
	Kind   DecisionKind `json:"decision"`
	Target string       `json:"target,omitempty"`
	Reason string       `json:"reason"`
}

// Allowed reports whether the decision lets the request through
func (d Decision) Allowed() bool {
	return d.Kind == DecisionAllow
}

// Routes names the places the guard redirects to
type Routes struct {
	Login      string
	AdminHome  string
	MemberHome string
}

// DefaultRoutes returns the portal's standard route targets
func DefaultRoutes() Routes {
	return Routes{
		Login:      "/login",
		AdminHome:  "/admin/dashboard",
		MemberHome: "/member/dashboard",
	}
}

// HomeFor returns the landing route for a role category
func (r Routes) HomeFor(category RoleCategory) string {
	if category == CategoryAdmin {
		return r.AdminHome
	}
	return r.MemberHome
}

// Guard decides whether a principal may proceed. Every call evaluates afresh.
type Guard struct {
	resolver *Resolver
	routes   Routes
	metrics  *observability.Metrics
}

// NewGuard creates a guard. Requirements are evaluated against resolver's catalog.
func NewGuard(resolver *Resolver, routes Routes, metrics *observability.Metrics) *Guard {
	return &Guard{
		resolver: resolver,
		routes:   routes,
		metrics:  metrics,
	}
}

// Routes returns the configured route targets
func (g *Guard) Routes() Routes {
	return g.routes
}

// Check evaluates req for principalID at now:
//
//	no principal                        -> Redirect(login)
//	requirement satisfied               -> Allow
//	not satisfied, some active role     -> Redirect(home for the principal's category)
//	not satisfied, no active role       -> Deny
func (g *Guard) Check(ctx context.Context, principalID string, req Requirement, now time.Time) (Decision, error) {
	decision, _, err := g.Evaluate(ctx, principalID, req, now)
	return decision, err
}

// Evaluate is Check that also returns the resolution the decision was based on.
// The resolution is nil for unauthenticated callers.
func (g *Guard) Evaluate(ctx context.Context, principalID string, req Requirement, now time.Time) (Decision, *Resolution, error) {
	if principalID == "" {
		d := Decision{Kind: DecisionRedirect, Target: g.routes.Login, Reason: "authentication required"}
		g.metrics.RecordGuardDecision(string(d.Kind), string(req.Kind))
		return d, nil, nil
	}

	res, err := g.resolver.Evaluate(ctx, principalID, now)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	d := decide(res, req, g.routes)
	g.metrics.RecordGuardDecision(string(d.Kind), string(req.Kind))
	return d, res, nil
}

func decide(res *Resolution, req Requirement, routes Routes) Decision {
	if req.SatisfiedBy(res) {
		return Decision{Kind: DecisionAllow, Reason: "requirement " + req.String() + " satisfied"}
	}
	if res.HasAnyRole() {
		return Decision{
			Kind:   DecisionRedirect,
			Target: routes.HomeFor(res.Category()),
			Reason: "requirement " + req.String() + " not satisfied by active roles",
		}
	}
	return Decision{Kind: DecisionDeny, Reason: "no active roles"}
}
