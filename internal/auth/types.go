package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read state but not act on devices.
	RoleViewer Role = "viewer"

	// RoleOperator can dispatch actions.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally clear the lock table.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrInvalidRole  = errors.New("auth: invalid role")
	ErrNoSecret     = errors.New("auth: signing secret is empty")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
