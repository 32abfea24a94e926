// Package rbac resolves what a portal principal may do and guards routes and
// administrative actions accordingly.
//
// # Overview
//
// Access is derived from role assignments. A principal holds zero or more
// assignments, each binding one role from a closed catalog for a validity
// window [GrantedAt, ExpiresAt). The effective permission set of a principal
// at an instant is the union of the permissions of its roles in force at that
// instant. Nothing is cached: every evaluation reads the store.
//
// # Roles
//
// The catalog is built once at startup and is read-only afterwards:
//
//	super_admin                         priority 100  admin   implicates all permissions
//	financial_manager                   priority 80   admin
//	family_tree_admin                   priority 70   admin
//	occasions_initiatives_diyas_admin   priority 60   admin
//	user_member                         priority 10   member
//
// LoadCatalog applies an optional YAML overlay to the built-in roles:
//
//	roles:
//	  - id: user_member
//	    name_ar: عضو
//	    permissions: [dashboard:view, profile:view_own]
//
// The overlay cannot add role identifiers. Unknown roles, unknown permissions
// and malformed entries produce a *ConfigError, which callers treat as fatal.
//
// A role with ImplicatesAll makes the resolver return the catalog's full
// permission set regardless of the principal's other roles.
//
// # Resolving and guarding
//
//	catalog, err := rbac.LoadCatalog(cfg.Catalog.File)
//	store := rbac.NewSQLStore(db, storage.DialectPostgres)
//	resolver := rbac.NewResolver(store, catalog, metrics)
//	guard := rbac.NewGuard(resolver, routes, metrics)
//
//	decision, err := guard.Check(ctx, principalID, rbac.HasPermission(rbac.PermissionManageRoles), time.Now())
//
// Guard decisions:
//
//	no principal                      Redirect(routes.Login)
//	requirement satisfied             Allow
//	unsatisfied, some active role     Redirect(routes.AdminHome or routes.MemberHome)
//	unsatisfied, no active role       Deny
//
// The redirect home is AdminHome when any active role is in the admin
// category. A principal without roles is denied rather than redirected.
//
// PermissionMiddleware applies the guard to HTTP handlers:
//
//	pm := rbac.NewPermissionMiddleware(guard, auditLogger, otelMetrics)
//	router.Handle("/finances", pm.RequirePermission(financesManage)(handler))
//
// # Administration
//
// AdminService wraps the store's Grant and Revoke behind the roles:manage
// permission. Grant checks, in order, the actor's permission, the target
// principal (exists, active), the role and the window, then lets the store
// enforce that the same role never has overlapping windows for one principal.
// Both operations return the target's active assignments afterwards.
//
//	active, err := admin.Grant(ctx, actorID, rbac.GrantRequest{
//		PrincipalID: memberID,
//		RoleID:      rbac.RoleFinancialManager,
//		ExpiresAt:   &endOfTerm,
//	})
//	switch {
//	case errors.Is(err, rbac.ErrDuplicateActiveRole):
//	case errors.Is(err, rbac.ErrInvalidWindow):
//	}
//
// Revoking an already revoked assignment is a no-op. Each mutation is written
// to the audit log.
//
// BootstrapSuperAdmin grants the first super_admin without a guard check and
// refuses once any principal holds an all-permissions role.
//
// # Storage
//
// SQLStore runs on PostgreSQL and SQLite. Grant and Revoke hold a per
// (principal, role) mutex in process and, on PostgreSQL, a transaction-scoped
// advisory lock across processes, so the duplicate check and the write are
// atomic. Failures other than this package's sentinels are returned as
// *StorageError, matched by errors.Is(err, ErrStorage).
//
// RunMigrations creates the principals, role_assignments and credentials
// tables.
//
// # HTTP API
//
// Handlers serve, relative to the mount point:
//
//	GET    /roles
//	GET    /principals?q=&limit=
//	GET    /principals/{id}/assignments?history=
//	POST   /principals/{id}/assignments
//	GET    /assignments
//	DELETE /assignments/{id}
//	GET    /me
//	POST   /check
//
// WriteError maps each sentinel to its own status and error code.
package rbac
