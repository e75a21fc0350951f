// Package rbac decides whether a profile's roles grant a named permission.
//
// # Model
//
// Permissions are flat, globally defined names such as "lead.view". Roles
// carry a set of permissions and come in two kinds:
//
//	RoleKindSystem  - tenant_id is NULL, visible to every tenant, read-only
//	RoleKindCustom  - owned by exactly one tenant, mutable only by it
//
// A profile may hold several roles. Its effective permission set is the
// union over all of them; there is no deny rule anywhere in the model.
//
// # Checking permissions
//
// Profiles of type superadmin are allowed unconditionally. Everyone else
// is checked with a single COUNT query over user_roles, role_permissions
// and permissions:
//
//	checker := rbac.NewPermissionChecker(db)
//	allowed, err := checker.CheckPermission(ctx, profile, "lead.delete")
//
// PermissionMiddleware wraps this for HTTP routes. It loads the profile
// through the request's auth.RequestContext, so a profile loaded here is
// reused by the profile resolver and the entitlement stage:
//
//	pm := rbac.NewPermissionMiddleware(checker, profileStore, logger, metrics)
//	router.Handle("/api/leads/{id}", pm.RequirePermission("lead.delete")(h))
//
// Denials answer 403 MISSING_PERMISSION with the permission name in the
// details. A failing COUNT query answers 500; permission checks never
// fail open.
//
// # Role management
//
// GuardRoleMutation protects system roles and enforces tenant ownership
// before any edit or delete. Handlers exposes list/get/update/delete
// endpoints built on RoleStore.
package rbac
