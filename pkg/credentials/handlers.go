package credentials

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alshuail/portal-access/pkg/httputil"
	"github.com/alshuail/portal-access/pkg/middleware"
	"github.com/alshuail/portal-access/pkg/rbac"
)

// Handlers serves password administration
type Handlers struct {
	gate *Gate
}

// NewHandlers creates credential handlers
func NewHandlers(gate *Gate) *Handlers {
	return &Handlers{gate: gate}
}

// RegisterRoutes registers the credential routes. middlewares apply to these
// routes only, typically a stricter rate limit.
func (h *Handlers) RegisterRoutes(router *mux.Router, middlewares ...mux.MiddlewareFunc) {
	sub := router.NewRoute().Subrouter()
	sub.Use(middlewares...)

	sub.HandleFunc("/principals/{id}/password", h.CreatePassword).Methods(http.MethodPost)
	sub.HandleFunc("/principals/{id}/password", h.ResetPassword).Methods(http.MethodPut)
	sub.HandleFunc("/principals/{id}/password", h.DeletePassword).Methods(http.MethodDelete)
	sub.HandleFunc("/principals/{id}/security", h.SecurityInfo).Methods(http.MethodGet)
}

type passwordBody struct {
	Password string `json:"password"`
	Force    bool   `json:"force,omitempty"`
}

// CreatePassword handles POST /principals/{id}/password
func (h *Handlers) CreatePassword(w http.ResponseWriter, r *http.Request) {
	targetID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body passwordBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	if err := h.gate.CreatePassword(r.Context(), middleware.PrincipalID(r), targetID, body.Password, body.Force); err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"principal_id": targetID,
		"password":     PasswordStatus{Enabled: true},
	})
}

// ResetPassword handles PUT /principals/{id}/password
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	targetID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var body passwordBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	if body.Force {
		httputil.WriteValidationError(w, "force applies to password creation only")
		return
	}

	if err := h.gate.ResetPassword(r.Context(), middleware.PrincipalID(r), targetID, body.Password); err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principal_id": targetID,
		"password":     PasswordStatus{Enabled: true},
	})
}

// DeletePassword handles DELETE /principals/{id}/password
func (h *Handlers) DeletePassword(w http.ResponseWriter, r *http.Request) {
	targetID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.gate.DeletePassword(r.Context(), middleware.PrincipalID(r), targetID); err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SecurityInfo handles GET /principals/{id}/security
func (h *Handlers) SecurityInfo(w http.ResponseWriter, r *http.Request) {
	targetID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	info, err := h.gate.SecurityInfo(r.Context(), middleware.PrincipalID(r), targetID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, info)
}

// WriteError maps credential errors to responses. Policy failures carry the
// itemized violations; everything else defers to rbac.WriteError.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *PolicyError
	switch {
	case errors.As(err, &pe):
		httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, "weak_password", pe.Error(), pe.Violations)
	case errors.Is(err, ErrAlreadyHasCredential):
		httputil.WriteErrorCode(w, http.StatusConflict, "already_has_credential", err.Error())
	case errors.Is(err, ErrNoExistingCredential):
		httputil.WriteErrorCode(w, http.StatusConflict, "no_existing_credential", err.Error())
	default:
		rbac.WriteError(w, r, err)
	}
}
