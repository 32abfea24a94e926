package rbac

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/alshuail/portal-access/pkg/httputil"
	"github.com/alshuail/portal-access/pkg/middleware"
	"github.com/alshuail/portal-access/pkg/observability"
)

// Handlers provides HTTP handlers for role administration and access checks
type Handlers struct {
	admin *AdminService
	guard *Guard
	now   func() time.Time
}

// NewHandlers creates new RBAC handlers
func NewHandlers(admin *AdminService, guard *Guard) *Handlers {
	return &Handlers{
		admin: admin,
		guard: guard,
		now:   time.Now,
	}
}

// RegisterRoutes registers the access routes on router. Callers mount router
// under /api/access behind the authentication middleware; authorization is
// enforced per operation by the admin service.
func (h *Handlers) RegisterRoutes(router *mux.Router, middlewares ...mux.MiddlewareFunc) {
	sub := router.NewRoute().Subrouter()
	sub.Use(middlewares...)

	sub.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	sub.HandleFunc("/principals", h.SearchPrincipals).Methods(http.MethodGet)
	sub.HandleFunc("/principals/{id}/assignments", h.ListPrincipalAssignments).Methods(http.MethodGet)
	sub.HandleFunc("/principals/{id}/assignments", h.GrantRole).Methods(http.MethodPost)
	sub.HandleFunc("/assignments", h.ListAllActive).Methods(http.MethodGet)
	sub.HandleFunc("/assignments/{id}", h.RevokeRole).Methods(http.MethodDelete)

	sub.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	sub.HandleFunc("/check", h.Check).Methods(http.MethodPost)
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context(), middleware.PrincipalID(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

// SearchPrincipals handles GET /principals?q=&limit=
func (h *Handlers) SearchPrincipals(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}
	query := httputil.ParseQueryString(r, "q", "")

	principals, err := h.admin.SearchPrincipals(r.Context(), middleware.PrincipalID(r), query, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principals": principals,
		"count":      len(principals),
	})
}

// ListPrincipalAssignments handles GET /principals/{id}/assignments?history=
func (h *Handlers) ListPrincipalAssignments(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	history, err := httputil.ParseQueryBool(r, "history", false)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid history flag")
		return
	}

	assignments, err := h.admin.ListPrincipalAssignments(r.Context(), middleware.PrincipalID(r), principalID, history)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.writeAssignments(w, principalID, assignments, http.StatusOK)
}

type grantBody struct {
	RoleID    RoleID     `json:"role_id"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// GrantRole handles POST /principals/{id}/assignments
func (h *Handlers) GrantRole(w http.ResponseWriter, r *http.Request) {
	principalID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body grantBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if !httputil.RequireNonEmpty(w, string(body.RoleID), "role_id") {
		return
	}

	assignments, err := h.admin.Grant(r.Context(), middleware.PrincipalID(r), GrantRequest{
		PrincipalID: principalID,
		RoleID:      body.RoleID,
		StartsAt:    body.StartsAt,
		ExpiresAt:   body.ExpiresAt,
		Notes:       body.Notes,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.writeAssignments(w, principalID, assignments, http.StatusCreated)
}

// RevokeRole handles DELETE /assignments/{id}
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	assignments, err := h.admin.Revoke(r.Context(), middleware.PrincipalID(r), assignmentID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if assignments == nil {
		assignments = []RoleAssignment{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"revoked":     assignmentID,
		"assignments": assignments,
		"count":       len(assignments),
	})
}

// ListAllActive handles GET /assignments
func (h *Handlers) ListAllActive(w http.ResponseWriter, r *http.Request) {
	groups, err := h.admin.ListAllActive(r.Context(), middleware.PrincipalID(r))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if groups == nil {
		groups = []PrincipalAssignments{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principals": groups,
		"count":      len(groups),
	})
}

// Me handles GET /me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	principalID := middleware.PrincipalID(r)
	if principalID == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	mine, err := h.admin.MyRoles(r.Context(), principalID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, mine)
}

type checkBody struct {
	Roles      []RoleID `json:"roles,omitempty"`
	Permission string   `json:"permission,omitempty"`
}

// Check handles POST /check. The body names either roles or a permission;
// the response is the guard decision for the caller.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var body checkBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	var req Requirement
	switch {
	case body.Permission != "" && len(body.Roles) > 0:
		httputil.WriteValidationError(w, "specify either roles or permission, not both")
		return
	case body.Permission != "":
		p, ok := ParsePermission(body.Permission)
		if !ok {
			httputil.WriteValidationError(w, "permission must have the form resource:action")
			return
		}
		req = HasPermission(p)
	case len(body.Roles) > 0:
		if err := h.admin.Catalog().Require(body.Roles...); err != nil {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		req = AnyOfRoles(body.Roles...)
	default:
		httputil.WriteValidationError(w, "roles or permission is required")
		return
	}

	decision, err := h.guard.Check(r.Context(), middleware.PrincipalID(r), req, h.now())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"requirement": req,
		"decision":    decision,
	})
}

func (h *Handlers) writeAssignments(w http.ResponseWriter, principalID string, assignments []RoleAssignment, status int) {
	if assignments == nil {
		assignments = []RoleAssignment{}
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"principal_id": principalID,
		"assignments":  assignments,
		"count":        len(assignments),
	})
}

// WriteError maps the errors of this package to HTTP responses. Each business
// failure keeps its own code; storage failures are reported without their cause.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		httputil.WriteErrorCode(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, ErrPrincipalNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, "principal_not_found", err.Error())
	case errors.Is(err, ErrAssignmentNotFound):
		httputil.WriteErrorCode(w, http.StatusNotFound, "assignment_not_found", err.Error())
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteErrorCode(w, http.StatusUnprocessableEntity, "role_not_found", err.Error())
	case errors.Is(err, ErrPrincipalInactive):
		httputil.WriteErrorCode(w, http.StatusUnprocessableEntity, "principal_inactive", err.Error())
	case errors.Is(err, ErrInvalidWindow):
		httputil.WriteErrorCode(w, http.StatusUnprocessableEntity, "invalid_window", err.Error())
	case errors.Is(err, ErrDuplicateActiveRole):
		httputil.WriteErrorCode(w, http.StatusConflict, "duplicate_active_role", err.Error())
	case errors.Is(err, ErrAlreadyBootstrapped):
		httputil.WriteErrorCode(w, http.StatusConflict, "already_bootstrapped", err.Error())
	case errors.As(err, new(*ConfigError)):
		observability.FromContext(r.Context()).WithError(err).Error("stored assignments do not match the role catalog")
		httputil.WriteErrorCode(w, http.StatusInternalServerError, "catalog_mismatch", "role configuration error")
	case errors.Is(err, ErrStorage):
		observability.FromContext(r.Context()).WithError(err).Error("role storage failure")
		httputil.WriteErrorCode(w, http.StatusServiceUnavailable, "storage_unavailable", ErrStorage.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("access request failed")
		httputil.WriteInternalError(w, err)
	}
}
