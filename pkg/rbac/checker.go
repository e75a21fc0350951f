package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/profile"
)

// Checker decides whether a profile holds a permission
type Checker interface {
	CheckPermission(ctx context.Context, p *auth.Profile, permission string) (bool, error)
}

// PermissionChecker evaluates permissions against PostgreSQL
type PermissionChecker struct {
	db *sql.DB
}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker(db *sql.DB) *PermissionChecker {
	return &PermissionChecker{db: db}
}

const permissionCountQuery = `
	SELECT COUNT(*)
	FROM user_roles ur
	JOIN role_permissions rp ON rp.role_id = ur.role_id
	JOIN permissions p ON p.id = rp.permission_id
	WHERE ur.profile_id = $1 AND p.name = $2
`

// CheckPermission allows superadmins unconditionally and otherwise allows
// iff any role assigned to the profile grants permission
func (pc *PermissionChecker) CheckPermission(ctx context.Context, p *auth.Profile, permission string) (bool, error) {
	if p == nil {
		return false, profile.ErrProfileNotFound
	}
	if p.IsSuperAdmin() {
		return true, nil
	}

	var count int
	if err := pc.db.QueryRowContext(ctx, permissionCountQuery, p.ID, permission).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check permission %s: %w", permission, err)
	}
	return count > 0, nil
}

// GuardRoleMutation rejects edits and deletes of system roles and of roles
// owned by a tenant other than callerTenantID. It applies to every caller,
// superadmins included.
func GuardRoleMutation(role *Role, callerTenantID int64) error {
	if role.IsSystem() {
		return ErrSystemRoleProtected
	}
	if !role.OwnedBy(callerTenantID) {
		return ErrCrossTenantAccess
	}
	return nil
}
