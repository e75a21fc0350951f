package rbac

import (
	"time"
)

// RoleKind distinguishes global system roles from tenant-owned roles
type RoleKind string

const (
	RoleKindSystem RoleKind = "system"
	RoleKindCustom RoleKind = "custom"
)

// Permissions used by the role-management endpoints
const (
	PermissionRoleView   = "role.view"
	PermissionRoleManage = "role.manage"
)

// Role is a named set of permissions. TenantID is nil for system roles.
type Role struct {
	ID          int64     `json:"id"`
	TenantID    *int64    `json:"tenant_id,omitempty"`
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Kind reports whether the role is a system or a custom role
func (r *Role) Kind() RoleKind {
	if r.TenantID == nil {
		return RoleKindSystem
	}
	return RoleKindCustom
}

// IsSystem reports whether the role is global and read-only to tenants
func (r *Role) IsSystem() bool {
	return r.Kind() == RoleKindSystem
}

// OwnedBy reports whether the role is a custom role of tenantID
func (r *Role) OwnedBy(tenantID int64) bool {
	return r.TenantID != nil && *r.TenantID == tenantID
}

// VisibleTo reports whether tenantID may read the role
func (r *Role) VisibleTo(tenantID int64) bool {
	return r.IsSystem() || r.OwnedBy(tenantID)
}

// RoleUpdate is the mutable part of a custom role.
// A nil Permissions leaves the role's grants unchanged.
type RoleUpdate struct {
	Label       *string   `json:"label,omitempty"`
	Description *string   `json:"description,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}
