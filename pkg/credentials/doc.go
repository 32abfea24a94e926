// Package credentials administers portal passwords on behalf of other
// principals.
//
// Gate is the only entry point. It requires credentials:manage on the acting
// principal and checks that before anything else, so an unauthorized caller
// gets ErrPermissionDenied whether or not the target exists.
//
//	gate := credentials.NewGate(guard, directory, credentials.NewSQLStore(db, dialect),
//		credentials.NewBcryptHasher(cfg.Password.BcryptCost), policy,
//		credentials.WithAuditLogger(auditLogger))
//
//	err := gate.CreatePassword(ctx, actorID, memberID, secret, false)
//	var pe *credentials.PolicyError
//	switch {
//	case errors.As(err, &pe):
//		// pe.Violations lists each unmet rule
//	case errors.Is(err, credentials.ErrAlreadyHasCredential):
//		// retry with force to overwrite
//	}
//
// ResetPassword only replaces an existing password and fails with
// ErrNoExistingCredential otherwise. Secrets are checked against the
// StrengthPolicy before they are hashed or stored, and never appear in logs
// or audit events.
package credentials
