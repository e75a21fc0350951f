package profile

import (
	"context"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Resolver attaches the caller's profile to the request context
type Resolver struct {
	loader  Loader
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a profile resolver. metrics may be nil.
func NewResolver(loader Loader, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		loader:  loader,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve returns the profile for identity, or nil on any failure.
// When ctx carries a RequestContext the result is memoized there and an
// already cached profile is returned without a query.
func (r *Resolver) Resolve(ctx context.Context, identity *auth.Identity) *auth.Profile {
	if identity == nil {
		return nil
	}

	load := func() (*auth.Profile, error) {
		return r.loader.GetByIdentity(ctx, identity.Subject)
	}

	var (
		p   *auth.Profile
		err error
	)
	if rc := auth.FromContext(ctx); rc != nil {
		p, err = rc.LoadProfile(load)
	} else {
		p, err = load()
	}

	if err != nil {
		logger := r.logger.WithField("identity", identity.Subject).WithError(err)
		if errors.Is(err, ErrProfileNotFound) {
			logger.Info("no profile for identity")
			r.metrics.RecordDecision(observability.StageProfile, observability.OutcomeDeny)
		} else {
			logger.Error("profile lookup failed, continuing without profile")
			r.metrics.RecordDecision(observability.StageProfile, observability.OutcomeError)
		}
		return nil
	}

	r.metrics.RecordDecision(observability.StageProfile, observability.OutcomeAllow)
	return p
}

// Handler resolves the profile of the session identity and always calls
// next, with or without a profile
func (r *Resolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if identity := auth.GetIdentity(ctx); identity != nil {
			spanCtx, span := observability.StartSpan(ctx, "profile.resolve")
			p := r.Resolve(spanCtx, identity)
			span.SetAttributes(attribute.Bool("profile.found", p != nil))
			if p != nil {
				span.SetAttributes(observability.AttrTenantID.Int64(p.TenantID), observability.AttrProfileID.Int64(p.ID))
			}
			span.End()
		}
		next.ServeHTTP(w, req)
	})
}
