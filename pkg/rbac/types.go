package rbac

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Resource represents an area of the portal that can be gated
type Resource string

const (
	ResourceDashboard        Resource = "dashboard"
	ResourceMembers          Resource = "members"
	ResourceUsers            Resource = "users"
	ResourceFinances         Resource = "finances"
	ResourceFinancialReports Resource = "financial_reports"
	ResourceReports          Resource = "reports"
	ResourceSubscriptions    Resource = "subscriptions"
	ResourcePayments         Resource = "payments"
	ResourceFamilyTree       Resource = "family_tree"
	ResourceRelationships    Resource = "relationships"
	ResourceOccasions        Resource = "occasions"
	ResourceInitiatives      Resource = "initiatives"
	ResourceDiyas            Resource = "diyas"
	ResourceEventsCalendar   Resource = "events_calendar"
	ResourceFamilyEvents     Resource = "family_events"
	ResourceProfile          Resource = "profile"
	ResourceSettings         Resource = "settings"
	ResourceRoles            Resource = "roles"
	ResourceCredentials      Resource = "credentials"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionView    Action = "view"
	ActionViewOwn Action = "view_own"
	ActionManage  Action = "manage"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ParsePermission parses the "resource:action" form produced by String.
func ParsePermission(s string) (Permission, bool) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok || resource == "" || action == "" {
		return Permission{}, false
	}
	return Permission{Resource: Resource(resource), Action: Action(action)}, true
}

// Well-known permissions referenced by the engine itself
var (
	PermissionManageRoles       = Permission{Resource: ResourceRoles, Action: ActionManage}
	PermissionManageCredentials = Permission{Resource: ResourceCredentials, Action: ActionManage}
	PermissionViewDashboard     = Permission{Resource: ResourceDashboard, Action: ActionView}
)

// AllPermissions returns the closed universe of permissions known to the portal
func AllPermissions() []Permission {
	return []Permission{
		{Resource: ResourceDashboard, Action: ActionView},
		{Resource: ResourceMembers, Action: ActionManage},
		{Resource: ResourceUsers, Action: ActionManage},
		{Resource: ResourceFinances, Action: ActionManage},
		{Resource: ResourceFinancialReports, Action: ActionView},
		{Resource: ResourceReports, Action: ActionView},
		{Resource: ResourceSubscriptions, Action: ActionManage},
		{Resource: ResourcePayments, Action: ActionManage},
		{Resource: ResourcePayments, Action: ActionViewOwn},
		{Resource: ResourceFamilyTree, Action: ActionManage},
		{Resource: ResourceFamilyTree, Action: ActionView},
		{Resource: ResourceRelationships, Action: ActionManage},
		{Resource: ResourceOccasions, Action: ActionManage},
		{Resource: ResourceInitiatives, Action: ActionManage},
		{Resource: ResourceDiyas, Action: ActionManage},
		{Resource: ResourceEventsCalendar, Action: ActionView},
		{Resource: ResourceFamilyEvents, Action: ActionView},
		{Resource: ResourceProfile, Action: ActionViewOwn},
		{Resource: ResourceSettings, Action: ActionManage},
		{Resource: ResourceRoles, Action: ActionManage},
		{Resource: ResourceCredentials, Action: ActionManage},
	}
}

// RoleID identifies a role in the closed catalog
type RoleID string

// Built-in role identifiers
const (
	RoleSuperAdmin       RoleID = "super_admin"
	RoleFinancialManager RoleID = "financial_manager"
	RoleFamilyTreeAdmin  RoleID = "family_tree_admin"
	RoleOccasionsAdmin   RoleID = "occasions_initiatives_diyas_admin"
	RoleUserMember       RoleID = "user_member"
)

// KnownRoleIDs returns every role identifier the portal recognizes
func KnownRoleIDs() []RoleID {
	return []RoleID{
		RoleSuperAdmin,
		RoleFinancialManager,
		RoleFamilyTreeAdmin,
		RoleOccasionsAdmin,
		RoleUserMember,
	}
}

// IsKnown reports whether id belongs to the closed set of role identifiers
func (id RoleID) IsKnown() bool {
	for _, known := range KnownRoleIDs() {
		if id == known {
			return true
		}
	}
	return false
}

// RoleCategory groups roles by the application area their holders land in
type RoleCategory string

const (
	CategoryAdmin  RoleCategory = "admin"
	CategoryMember RoleCategory = "member"
)

// Role represents a role with a set of permissions
type Role struct {
	ID            RoleID       `json:"id"`
	Name          string       `json:"name"`
	NameAr        string       `json:"name_ar"`
	Description   string       `json:"description"`
	Priority      int          `json:"priority"`
	Category      RoleCategory `json:"category"`
	ImplicatesAll bool         `json:"implicates_all"`
	Permissions   []Permission `json:"permissions"`
}

// HasPermission reports whether the role grants p directly or implicates all permissions
func (r *Role) HasPermission(p Permission) bool {
	if r.ImplicatesAll {
		return true
	}
	for _, perm := range r.Permissions {
		if perm == p {
			return true
		}
	}
	return false
}

// RoleAssignment binds one principal to one role for a validity window [GrantedAt, ExpiresAt)
type RoleAssignment struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	RoleID      RoleID     `json:"role_id"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	GrantedBy   string     `json:"granted_by,omitempty"`
	RevokedBy   string     `json:"revoked_by,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsActiveAt reports whether the assignment is in force at now.
// A nil ExpiresAt is unbounded.
func (a *RoleAssignment) IsActiveAt(now time.Time) bool {
	if a.RevokedAt != nil {
		return false
	}
	if now.Before(a.GrantedAt) {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// Overlaps reports whether the assignment's window intersects w.
// Revoked assignments never overlap anything.
func (a *RoleAssignment) Overlaps(w Window) bool {
	if a.RevokedAt != nil {
		return false
	}
	if w.End != nil && !a.GrantedAt.Before(*w.End) {
		return false
	}
	if a.ExpiresAt != nil && !w.Start.Before(*a.ExpiresAt) {
		return false
	}
	return true
}

// Status describes the assignment state at now
func (a *RoleAssignment) Status(now time.Time) AssignmentStatus {
	switch {
	case a.RevokedAt != nil:
		return AssignmentRevoked
	case now.Before(a.GrantedAt):
		return AssignmentPending
	case a.ExpiresAt != nil && !now.Before(*a.ExpiresAt):
		return AssignmentExpired
	default:
		return AssignmentActive
	}
}

// AssignmentStatus is the derived lifecycle state of an assignment
type AssignmentStatus string

const (
	AssignmentActive  AssignmentStatus = "active"
	AssignmentPending AssignmentStatus = "pending"
	AssignmentExpired AssignmentStatus = "expired"
	AssignmentRevoked AssignmentStatus = "revoked"
)

// Window is a validity window [Start, End). A nil End is unbounded.
type Window struct {
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// Valid reports whether End, when present, is strictly after Start
func (w Window) Valid() bool {
	return w.End == nil || w.End.After(w.Start)
}

// PermissionSet is an effective permission set. The zero value is empty.
type PermissionSet struct {
	perms map[Permission]struct{}
}

// NewPermissionSet builds a set from the given permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := PermissionSet{perms: make(map[Permission]struct{}, len(perms))}
	for _, p := range perms {
		s.perms[p] = struct{}{}
	}
	return s
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.perms[p]
	return ok
}

// Len returns the number of permissions in the set
func (s PermissionSet) Len() int {
	return len(s.perms)
}

// IsEmpty reports whether the set holds no permissions
func (s PermissionSet) IsEmpty() bool {
	return len(s.perms) == 0
}

// List returns the permissions sorted by their string form
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// Strings returns the sorted "resource:action" forms
func (s PermissionSet) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.String()
	}
	return out
}

// Equal reports whether both sets hold exactly the same permissions
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s.perms) != len(other.perms) {
		return false
	}
	for p := range s.perms {
		if _, ok := other.perms[p]; !ok {
			return false
		}
	}
	return true
}

// MarshalJSON renders the set as a sorted list of "resource:action" strings
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}
