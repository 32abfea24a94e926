// Package auth answers "who is calling": principals, the directory that stores
// them, and the sessions that identify them on each request.
//
// # Principals
//
// A Principal is a member or administrator of the portal. Principals are
// provisioned outside request handling (see cmd/accessctl provision) and are
// never deleted, only suspended. Directory is the read side:
//
//	dir := auth.NewCachedDirectory(auth.NewSQLDirectory(db), 1024, time.Minute, metrics)
//	p, err := dir.GetPrincipal(ctx, id)
//
// CachedDirectory keeps profile lookups in an expirable LRU. Role assignments and
// permissions are never cached here; see pkg/rbac.
//
// # Sessions
//
// SessionManager implements SessionSource, the only way request handling learns
// the caller's identity. Tokens look like
//
//	alsh_<base64url(32 random bytes)>
//
// and only their SHA-256 hash is stored, in Redis (RedisSessionStore) or in
// memory (MemorySessionStore). Authenticate rejects expired sessions and
// suspended principals:
//
//	token, session, err := sessions.Issue(ctx, principalID)
//	authCtx, err := sessions.Authenticate(ctx, token)
//
// The HTTP side lives in pkg/middleware.
package auth
