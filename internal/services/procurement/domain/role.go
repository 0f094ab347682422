package domain

import (
	"strings"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
)

// Role identifies what a registered user may do in the workflow.
type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleSeller    Role = "seller"
	RoleWarehouse Role = "warehouse"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes a role value, accepting any case.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleBuyer, RoleSeller, RoleWarehouse, RoleAdmin:
		return role, nil
	}
	return "", apperrors.WithMetadata(apperrors.CodeUserInvalidRole, "role is not recognized", map[string]string{"Role": raw})
}

// SelfRegistrable reports whether users may pick this role themselves.
// Admins are provisioned by operators only.
func (r Role) SelfRegistrable() bool {
	return r == RoleBuyer || r == RoleSeller || r == RoleWarehouse
}

// AutoApproved reports whether a fresh registration with this role skips
// the admin approval step.
func (r Role) AutoApproved() bool {
	return r == RoleSeller || r == RoleAdmin
}

func (r Role) String() string { return string(r) }
