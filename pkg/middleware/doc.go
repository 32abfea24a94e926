// Package middleware provides the HTTP middleware that establishes who is
// calling and how often they may call.
//
// AuthMiddleware resolves the session token (Authorization: Bearer, or the
// portal_session cookie) through an auth.SessionSource and stores the resulting
// *auth.AuthContext in the request context:
//
//	router.Use(middleware.NewAuthMiddleware(sessions, true).Handler)
//
// Authorization is not decided here; see rbac.PermissionMiddleware.
//
// RateLimitMiddleware keys requests by principal, or by client IP for anonymous
// callers, and consults a Limiter: RateLimiter (in-process token bucket) or
// DistributedRateLimiter (fixed window in Redis, shared by all instances).
// Limiter errors fail open unless SetFallbackEnabled(false) is called.
//
// Defaults:
//
//	Anonymous:    100 req/min, 10 burst
//	Principal:    1000 req/min, 50 burst
//	Credentials:  10 req/min, no burst
package middleware
