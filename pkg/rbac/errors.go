package rbac

import (
	"errors"
	"fmt"
)

// Error codes written in 403 responses
const (
	CodeMissingPermission   = "MISSING_PERMISSION"
	CodeSystemRoleProtected = "SYSTEM_ROLE_PROTECTED"
	CodeCrossTenantAccess   = "CROSS_TENANT_ACCESS"
)

var (
	// ErrSystemRoleProtected is returned for edits or deletes of a system role
	ErrSystemRoleProtected = errors.New("system roles cannot be modified")

	// ErrCrossTenantAccess is returned when a role belongs to another tenant
	ErrCrossTenantAccess = errors.New("role belongs to another tenant")

	// ErrRoleNotFound is returned when no role has the requested id
	ErrRoleNotFound = errors.New("role not found")

	// ErrUnknownPermission is returned when an update names a permission that does not exist
	ErrUnknownPermission = errors.New("unknown permission")
)

// PermissionError is returned when none of a profile's roles grants Permission
type PermissionError struct {
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing permission %q", e.Permission)
}
