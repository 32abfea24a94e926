// Package httputil provides the JSON request/response helpers and the generic
// HTTP middleware shared by the access API.
//
// # Responses
//
// Every error body has the same shape:
//
//	{"error": "conflict", "message": "role already active for principal", "details": ...}
//
// "error" is a stable machine-readable code; ErrorCode derives it from the
// status when the caller does not choose one:
//
//	httputil.WriteErrorCode(w, http.StatusConflict, "duplicate_active_role", err.Error())
//	httputil.WriteForbidden(w, "roles:manage required")
//	httputil.WriteDetailedError(w, http.StatusUnprocessableEntity, "weak_password", msg, violations)
//
// WriteInternalError never echoes the cause to the client.
//
// # Requests
//
//	var req GrantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	history, err := httputil.ParseQueryBool(r, "history", false)
//
// ParseJSON rejects unknown fields.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// RequestIDMiddleware must run first: it installs the request ID, the logger
// and the start time that the other middleware read from the context.
package httputil
