package rbac

import (
	"net/http"
	"strings"
	"time"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/httputil"
	"github.com/alshuail/portal-access/pkg/middleware"
	"github.com/alshuail/portal-access/pkg/observability"
)

// PermissionMiddleware applies the guard to HTTP routes
type PermissionMiddleware struct {
	guard       *Guard
	audit       audit.Logger
	otelMetrics *observability.OTelMetrics
	now         func() time.Time
}

// NewPermissionMiddleware creates a new permission middleware. auditLogger may be nil.
func NewPermissionMiddleware(guard *Guard, auditLogger audit.Logger, otelMetrics *observability.OTelMetrics) *PermissionMiddleware {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &PermissionMiddleware{
		guard:       guard,
		audit:       auditLogger,
		otelMetrics: otelMetrics,
		now:         time.Now,
	}
}

// RequirePermission creates middleware that requires a specific permission
func (pm *PermissionMiddleware) RequirePermission(p Permission) func(http.Handler) http.Handler {
	return pm.Require(HasPermission(p))
}

// RequireAnyRole creates middleware that requires one of the given roles
func (pm *PermissionMiddleware) RequireAnyRole(ids ...RoleID) func(http.Handler) http.Handler {
	return pm.Require(AnyOfRoles(ids...))
}

// Require evaluates req for the authenticated caller on every request.
//
// Browser navigations (Accept: text/html) follow redirect decisions with a 303.
// API callers get 401 for the login redirect and 403 otherwise, with the
// decision in the error details so the client can route itself.
func (pm *PermissionMiddleware) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID := middleware.PrincipalID(r)

			d, err := pm.guard.Check(r.Context(), principalID, req, pm.now())
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("guard evaluation failed")
				httputil.WriteServiceUnavailable(w, "authorization unavailable")
				return
			}
			pm.otelMetrics.RecordDecision(r.Context(), string(d.Kind), string(req.Kind))

			if d.Allowed() {
				next.ServeHTTP(w, r)
				return
			}

			if principalID != "" {
				pm.recordRefusal(r, principalID, req, d)
			}

			if d.Kind == DecisionRedirect && wantsHTML(r) {
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
				return
			}

			switch {
			case d.Kind == DecisionRedirect && principalID == "":
				httputil.WriteDetailedError(w, http.StatusUnauthorized, "authentication_required", d.Reason, d)
			case d.Kind == DecisionRedirect:
				httputil.WriteDetailedError(w, http.StatusForbidden, "insufficient_role", d.Reason, d)
			default:
				httputil.WriteDetailedError(w, http.StatusForbidden, "access_denied", d.Reason, d)
			}
		})
	}
}

func (pm *PermissionMiddleware) recordRefusal(r *http.Request, principalID string, req Requirement, d Decision) {
	eventType := audit.EventTypeAccessDenied
	if d.Kind == DecisionRedirect {
		eventType = audit.EventTypeAccessRedirect
	}
	event := audit.NewEvent(r.Context(), eventType, audit.EventStatusDenied).WithRequest(r)
	event.ActorID = principalID
	event.ResourceType = audit.ResourceTypeRoute
	event.ResourceID = r.URL.Path
	event.Message = d.Reason
	event.Metadata["requirement"] = req.String()
	if d.Target != "" {
		event.Metadata["target"] = d.Target
	}
	audit.Record(r.Context(), pm.audit, event)
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
