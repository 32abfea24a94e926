package auth

import "time"

// PrincipalStatus is the account state of a principal
type PrincipalStatus string

const (
	StatusActive    PrincipalStatus = "active"
	StatusSuspended PrincipalStatus = "suspended"
)

// Principal represents an authenticated actor of the portal (a member or an administrator).
// Principals are never deleted, only suspended.
type Principal struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Status      PrincipalStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsActive reports whether the principal may act in the portal
func (p *Principal) IsActive() bool {
	return p.Status == StatusActive
}

// Session is a server-side login session. Only the hash of its token is stored.
type Session struct {
	TokenHash   string    `json:"-"`
	TokenPrefix string    `json:"token_prefix"`
	PrincipalID string    `json:"principal_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// AuthContext holds the authenticated principal of a request
type AuthContext struct {
	Principal *Principal
	Session   *Session
}

// PrincipalID returns the authenticated principal's ID, or "" when unauthenticated
func (ac *AuthContext) PrincipalID() string {
	if ac == nil || ac.Principal == nil {
		return ""
	}
	return ac.Principal.ID
}
