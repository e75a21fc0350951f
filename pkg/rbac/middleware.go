package rbac

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profile"
	"github.com/platinummonkey/tenantgate/pkg/session"
)

// PermissionMiddleware guards routes with a required permission
type PermissionMiddleware struct {
	checker Checker
	loader  profile.Loader
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// NewPermissionMiddleware creates a new permission middleware. metrics may be nil.
func NewPermissionMiddleware(checker Checker, loader profile.Loader, logger *observability.Logger, metrics *observability.Metrics) *PermissionMiddleware {
	return &PermissionMiddleware{
		checker: checker,
		loader:  loader,
		logger:  logger,
		metrics: metrics,
		audit:   audit.NopLogger{},
	}
}

// WithAudit records permission denials to l
func (pm *PermissionMiddleware) WithAudit(l audit.Logger) *PermissionMiddleware {
	pm.audit = l
	return pm
}

// RequirePermission creates middleware that requires the named permission.
// The profile it loads is cached on the request for later stages.
func (pm *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pm.authorize(w, r, permission) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// authorize writes the failure response itself and reports whether the
// request may continue
func (pm *PermissionMiddleware) authorize(w http.ResponseWriter, r *http.Request, permission string) bool {
	ctx, span := observability.StartSpan(r.Context(), "rbac.require_permission",
		attribute.String("permission", permission))
	defer span.End()

	rc := auth.FromContext(ctx)
	identity := auth.GetIdentity(ctx)
	if rc == nil || identity == nil {
		session.WriteError(w, session.ErrNoCredentials)
		return false
	}

	logger := pm.logger.
		WithField("identity", identity.Subject).
		WithField("permission", permission)

	p, err := rc.LoadProfile(func() (*auth.Profile, error) {
		return pm.loader.GetByIdentity(ctx, identity.Subject)
	})
	if errors.Is(err, profile.ErrProfileNotFound) {
		pm.metrics.RecordDecision(observability.StagePermission, observability.OutcomeDeny)
		logger.Info("permission denied: no profile")
		httputil.WriteCodedError(w, http.StatusForbidden, profile.CodeProfileNotFound,
			"no profile is linked to this account", nil)
		return false
	}
	if err != nil {
		pm.metrics.RecordDecision(observability.StagePermission, observability.OutcomeError)
		logger.WithError(err).Error("profile lookup failed during permission check")
		httputil.WriteInternalError(w)
		return false
	}

	span.SetAttributes(observability.AttrProfileID.Int64(p.ID), observability.AttrTenantID.Int64(p.TenantID))

	allowed, err := pm.checker.CheckPermission(ctx, p, permission)
	if err != nil {
		pm.metrics.RecordDecision(observability.StagePermission, observability.OutcomeError)
		logger.WithField("profile_id", p.ID).WithError(err).Error("permission check failed")
		httputil.WriteInternalError(w)
		return false
	}
	if !allowed {
		pm.metrics.RecordDecision(observability.StagePermission, observability.OutcomeDeny)
		logger.WithField("profile_id", p.ID).Info("permission denied")
		observability.MarkDenied(span, CodeMissingPermission)

		event := audit.NewEvent(r.WithContext(ctx), audit.EventTypeAccessDenied, audit.EventStatusDenied)
		event.ResourceType = audit.ResourceTypePermission
		event.ResourceID = permission
		if err := pm.audit.Log(ctx, event); err != nil {
			logger.WithError(err).Warn("failed to record audit event")
		}

		WritePermissionError(w, &PermissionError{Permission: permission})
		return false
	}

	pm.metrics.RecordDecision(observability.StagePermission, observability.OutcomeAllow)
	return true
}

// WritePermissionError writes the 403 for a permission or role guard error
func WritePermissionError(w http.ResponseWriter, err error) {
	var pe *PermissionError
	switch {
	case errors.As(err, &pe):
		httputil.WriteCodedError(w, http.StatusForbidden, CodeMissingPermission,
			"your role does not grant this action",
			map[string]interface{}{"permission": pe.Permission})
	case errors.Is(err, ErrSystemRoleProtected):
		httputil.WriteCodedError(w, http.StatusForbidden, CodeSystemRoleProtected,
			"system roles cannot be edited or deleted", nil)
	case errors.Is(err, ErrCrossTenantAccess):
		httputil.WriteCodedError(w, http.StatusForbidden, CodeCrossTenantAccess,
			"this role belongs to another company", nil)
	default:
		httputil.WriteInternalError(w)
	}
}
