package entitlements

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profile"
	"github.com/platinummonkey/tenantgate/pkg/session"
)

// Checker is the decision surface of Evaluator used over HTTP
type Checker interface {
	Check(ctx context.Context, tenantID int64, key string) (*Decision, error)
	Registry() *Registry
}

// TenantResolver finds the tenant of an identity when no profile was loaded
type TenantResolver interface {
	TenantIDForIdentity(ctx context.Context, identityID string) (int64, error)
}

// Middleware guards routes with a required entitlement key
type Middleware struct {
	checker Checker
	tenants TenantResolver
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// NewMiddleware creates entitlement middleware. metrics may be nil.
func NewMiddleware(checker Checker, tenants TenantResolver, logger *observability.Logger, metrics *observability.Metrics) *Middleware {
	return &Middleware{
		checker: checker,
		tenants: tenants,
		logger:  logger,
		metrics: metrics,
		audit:   audit.NopLogger{},
	}
}

// WithAudit records plan denials to l
func (m *Middleware) WithAudit(l audit.Logger) *Middleware {
	m.audit = l
	return m
}

// Require creates middleware that lets the request through only while the
// caller's tenant is entitled to key. It panics if key is not registered,
// so misconfigured routes fail at startup.
func (m *Middleware) Require(key string) func(http.Handler) http.Handler {
	if _, ok := m.checker.Registry().Lookup(key); !ok {
		panic(fmt.Sprintf("entitlements: route requires unknown key %q", key))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.authorize(w, r, key) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (m *Middleware) authorize(w http.ResponseWriter, r *http.Request, key string) bool {
	ctx, span := observability.StartSpan(r.Context(), "entitlements.require",
		attribute.String("entitlement.key", key))
	defer span.End()

	identity := auth.GetIdentity(ctx)
	if identity == nil {
		session.WriteError(w, session.ErrNoCredentials)
		return false
	}

	logger := m.logger.WithField("identity", identity.Subject).WithField("key", key)

	tenantID, err := m.tenantID(ctx, identity)
	if errors.Is(err, profile.ErrProfileNotFound) {
		m.metrics.RecordDecision(observability.StageEntitlement, observability.OutcomeDeny)
		logger.Info("entitlement denied: no profile")
		httputil.WriteCodedError(w, http.StatusForbidden, profile.CodeProfileNotFound,
			"no profile is linked to this account", nil)
		return false
	}
	if err != nil {
		m.metrics.RecordDecision(observability.StageEntitlement, observability.OutcomeFailOpen)
		m.metrics.RecordFailOpen("entitlements")
		logger.WithError(err).Error("tenant lookup failed, allowing request")
		return true
	}
	span.SetAttributes(observability.AttrTenantID.Int64(tenantID))

	decision, err := m.checker.Check(ctx, tenantID, key)
	if err != nil {
		m.metrics.RecordDecision(observability.StageEntitlement, observability.OutcomeError)
		logger.WithError(err).Error("entitlement check failed")
		httputil.WriteInternalError(w)
		return false
	}

	if decision.FailOpen {
		m.metrics.RecordDecision(observability.StageEntitlement, observability.OutcomeFailOpen)
		return true
	}
	if err := decision.Err(); err != nil {
		m.metrics.RecordDecision(observability.StageEntitlement, observability.OutcomeDeny)
		logger.WithTenant(tenantID).WithError(err).Info("entitlement denied")
		var le *LimitError
		if errors.As(err, &le) {
			observability.MarkDenied(span, le.Code)
		}
		m.recordDenial(r.WithContext(ctx), tenantID, decision)
		WriteLimitError(w, err)
		return false
	}

	m.metrics.RecordDecision(observability.StageEntitlement, observability.OutcomeAllow)
	return true
}

func (m *Middleware) recordDenial(r *http.Request, tenantID int64, decision *Decision) {
	event := audit.NewEvent(r, audit.EventTypePlanDenied, audit.EventStatusDenied)
	event.TenantID = &tenantID
	event.ResourceType = audit.ResourceTypeEntitlement
	event.ResourceID = decision.Key
	event.Message = decision.Err().Error()
	event.Metadata["kind"] = string(decision.Kind)
	event.Metadata["resource"] = decision.Resource
	if decision.Current != nil {
		event.Metadata["current"] = *decision.Current
	}
	if decision.Limit != nil {
		event.Metadata["limit"] = *decision.Limit
	}
	if err := m.audit.Log(r.Context(), event); err != nil {
		m.logger.WithError(err).Warn("failed to record audit event")
	}
}

// tenantID prefers the profile cached by an earlier stage
func (m *Middleware) tenantID(ctx context.Context, identity *auth.Identity) (int64, error) {
	if p := auth.GetProfile(ctx); p != nil {
		return p.TenantID, nil
	}
	return m.tenants.TenantIDForIdentity(ctx, identity.Subject)
}

// DecisionHandler serves GET /api/entitlements/{key}: the caller's decision
// for key, with the same outcomes as Require except that a plan denial is a
// 200 carrying Allowed=false. An unknown key is 404 and a missing profile is
// 403 PROFILE_NOT_FOUND. A failed tenant lookup reports a FailOpen decision.
func (m *Middleware) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	key, err := httputil.ParsePathString(r, "key")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	res, ok := m.checker.Registry().Lookup(key)
	if !ok {
		httputil.WriteNotFoundError(w, fmt.Sprintf("%s: %s", ErrUnknownKey, key))
		return
	}

	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		session.WriteError(w, session.ErrNoCredentials)
		return
	}

	tenantID, err := m.tenantID(r.Context(), identity)
	if errors.Is(err, profile.ErrProfileNotFound) {
		httputil.WriteCodedError(w, http.StatusForbidden, profile.CodeProfileNotFound,
			"no profile is linked to this account", nil)
		return
	}
	if err != nil {
		m.metrics.RecordFailOpen("entitlements")
		m.logger.WithError(err).WithField("identity", identity.Subject).Error("tenant lookup failed, reporting fail-open decision")
		_ = httputil.WriteSuccess(w, &Decision{Key: key, Kind: res.Kind, Resource: res.Label, Allowed: true, FailOpen: true})
		return
	}

	decision, err := m.checker.Check(r.Context(), tenantID, key)
	if errors.Is(err, ErrUnknownKey) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	if err != nil {
		m.logger.WithError(err).WithTenant(tenantID).Error("entitlement check failed")
		httputil.WriteInternalError(w)
		return
	}
	_ = httputil.WriteSuccess(w, decision)
}
