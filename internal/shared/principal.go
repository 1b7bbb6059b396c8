package shared

import (
	"context"
	"fmt"
	"slices"
)

// Role is the coarse authorization role attached to a principal.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleManager     Role = "MANAGER"
	RoleSupervisor  Role = "SUPERVISOR"
	RoleStorekeeper Role = "STOREKEEPER"
	RoleTechnician  Role = "TECHNICIAN"
	RoleViewer      Role = "VIEWER"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSupervisor, RoleStorekeeper, RoleTechnician, RoleViewer:
		return true
	}
	return false
}

// Principal describes the authenticated caller. CompanyID scopes every lookup.
type Principal struct {
	UserID    int64
	CompanyID int64
	Role      Role
}

// Require fails with ErrForbidden unless the principal holds one of roles.
func (p Principal) Require(action string, roles ...Role) error {
	if slices.Contains(roles, p.Role) {
		return nil
	}
	return fmt.Errorf("%w: role %s may not %s", ErrForbidden, p.Role, action)
}

// Validate checks the principal carries a user and a company.
func (p Principal) Validate() error {
	if p.UserID <= 0 || p.CompanyID <= 0 {
		return fmt.Errorf("%w: principal requires user and company", ErrForbidden)
	}
	return nil
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
