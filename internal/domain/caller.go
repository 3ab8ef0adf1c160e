package domain

import "github.com/google/uuid"

// Role is the role asserted for a caller by the upstream authentication layer.
type Role string

// Caller roles.
const (
	RoleCustomer Role = "customer"
	RoleTasker   Role = "tasker"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleTasker, RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}

// Caller identifies who invokes a lifecycle operation. Authentication happens
// upstream; the pair is trusted as given.
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

// SystemCaller is the identity used by background sweeps and event handlers.
func SystemCaller() Caller {
	return Caller{UserID: uuid.Nil, Role: RoleSystem}
}

// IsPrivileged reports whether the caller bypasses ownership checks.
func (c Caller) IsPrivileged() bool {
	return c.Role == RoleAdmin || c.Role == RoleSystem
}

// ActsFor reports whether the caller may act on behalf of userID.
func (c Caller) ActsFor(userID uuid.UUID) bool {
	return c.IsPrivileged() || (c.UserID != uuid.Nil && c.UserID == userID)
}
