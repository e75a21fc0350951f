// Package audit records authorization decisions and role changes.
//
// # Event Types
//
// Authorization: access_denied (missing permission or role guard)
// Plans: plan_denied (limit reached, feature or module locked)
// Roles: role_update, role_delete (with before/after changes)
//
// # Usage Example
//
//	event := audit.NewEvent(r, audit.EventTypeRoleUpdate, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeRole
//	event.ResourceID = strconv.FormatInt(role.ID, 10)
//	event.Changes = &audit.ChangeDetails{Before: before, After: after}
//	_ = auditLogger.Log(r.Context(), event)
//
// DBLogger writes to the audit_events table. Wrap it in an AsyncLogger so
// a slow or unavailable database never adds latency to the request path.
package audit
