package auth

import "errors"

var (
	// ErrPrincipalNotFound is returned when no principal has the given ID
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrInvalidSession is returned for unknown, expired or malformed session tokens
	ErrInvalidSession = errors.New("invalid session")

	// ErrPrincipalSuspended is returned when a suspended principal presents a session
	ErrPrincipalSuspended = errors.New("principal is suspended")
)
