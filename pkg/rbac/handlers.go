package rbac

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profile"
)

// Handlers provides the role-management endpoints. They expect the
// permission stage to have cached the caller's profile.
type Handlers struct {
	roles  RoleRepository
	logger *observability.Logger
	audit  audit.Logger
}

// NewHandlers creates new role handlers
func NewHandlers(roles RoleRepository, logger *observability.Logger) *Handlers {
	return &Handlers{
		roles:  roles,
		logger: logger,
		audit:  audit.NopLogger{},
	}
}

// WithAudit records role changes and guard denials to l
func (h *Handlers) WithAudit(l audit.Logger) *Handlers {
	h.audit = l
	return h
}

// ListRoles returns the system roles and the caller's custom roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	roles, err := h.roles.ListForTenant(r.Context(), caller.TenantID)
	if err != nil {
		h.logger.WithError(err).WithTenant(caller.TenantID).Error("failed to list roles")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteSuccess(w, roles)
}

// GetRole returns one role visible to the caller's tenant
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}

	if !role.VisibleTo(caller.TenantID) {
		h.denied(r, caller, role, ErrCrossTenantAccess)
		WritePermissionError(w, ErrCrossTenantAccess)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// UpdateRole edits a custom role owned by the caller's tenant
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}

	if err := GuardRoleMutation(role, caller.TenantID); err != nil {
		h.denied(r, caller, role, err)
		WritePermissionError(w, err)
		return
	}

	var update RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	if update.Label != nil && *update.Label == "" {
		httputil.WriteBadRequest(w, "label cannot be empty")
		return
	}

	before := roleState(role)
	if err := h.roles.Update(r.Context(), role, update); err != nil {
		switch {
		case errors.Is(err, ErrUnknownPermission):
			httputil.WriteBadRequest(w, err.Error())
		case errors.Is(err, ErrRoleNotFound):
			httputil.WriteNotFoundError(w, "role not found")
		default:
			h.logger.WithError(err).WithField("role_id", role.ID).Error("failed to update role")
			httputil.WriteInternalError(w)
		}
		return
	}

	event := audit.NewEvent(r, audit.EventTypeRoleUpdate, audit.EventStatusSuccess)
	event.Changes = &audit.ChangeDetails{Before: before, After: roleState(role)}
	h.record(r, event, role)

	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a custom role owned by the caller's tenant
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	role, ok := h.loadRole(w, r)
	if !ok {
		return
	}

	if err := GuardRoleMutation(role, caller.TenantID); err != nil {
		h.denied(r, caller, role, err)
		WritePermissionError(w, err)
		return
	}

	if err := h.roles.Delete(r.Context(), role); err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			httputil.WriteNotFoundError(w, "role not found")
			return
		}
		h.logger.WithError(err).WithField("role_id", role.ID).Error("failed to delete role")
		httputil.WriteInternalError(w)
		return
	}

	event := audit.NewEvent(r, audit.EventTypeRoleDelete, audit.EventStatusSuccess)
	event.Changes = &audit.ChangeDetails{Before: roleState(role)}
	h.record(r, event, role)

	httputil.WriteNoContent(w)
}

func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (*auth.Profile, bool) {
	p := auth.GetProfile(r.Context())
	if p == nil {
		httputil.WriteCodedError(w, http.StatusForbidden, profile.CodeProfileNotFound,
			"no profile is linked to this account", nil)
		return nil, false
	}
	return p, true
}

func (h *Handlers) loadRole(w http.ResponseWriter, r *http.Request) (*Role, bool) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}

	role, err := h.roles.Get(r.Context(), roleID)
	if errors.Is(err, ErrRoleNotFound) {
		httputil.WriteNotFoundError(w, "role not found")
		return nil, false
	}
	if err != nil {
		h.logger.WithError(err).WithField("role_id", roleID).Error("failed to load role")
		httputil.WriteInternalError(w)
		return nil, false
	}
	return role, true
}

func (h *Handlers) denied(r *http.Request, caller *auth.Profile, role *Role, err error) {
	h.logger.WithFields(map[string]interface{}{
		"profile_id": caller.ID,
		"tenant_id":  caller.TenantID,
		"role_id":    role.ID,
	}).WithError(err).Info("role access denied")

	event := audit.NewEvent(r, audit.EventTypeAccessDenied, audit.EventStatusDenied)
	event.Message = err.Error()
	h.record(r, event, role)
}

func (h *Handlers) record(r *http.Request, event *audit.Event, role *Role) {
	event.ResourceType = audit.ResourceTypeRole
	event.ResourceID = strconv.FormatInt(role.ID, 10)
	if err := h.audit.Log(r.Context(), event); err != nil {
		h.logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("failed to record audit event")
	}
}

func roleState(role *Role) map[string]interface{} {
	return map[string]interface{}{
		"label":       role.Label,
		"description": role.Description,
		"permissions": append([]string(nil), role.Permissions...),
	}
}
