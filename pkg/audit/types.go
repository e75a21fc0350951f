package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeAccessDenied EventType = "authz.access_denied"
	EventTypePlanDenied   EventType = "authz.plan_denied"
	EventTypeRoleUpdate   EventType = "admin.role_update"
	EventTypeRoleDelete   EventType = "admin.role_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeRole        ResourceType = "role"
	ResourceTypePermission  ResourceType = "permission"
	ResourceTypeEntitlement ResourceType = "entitlement"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	IdentityID string `json:"identity_id,omitempty"`
	ProfileID  *int64 `json:"profile_id,omitempty"`
	TenantID   *int64 `json:"tenant_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Changes  *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}
