package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/sso"
)

// RefreshGrace is how close to expiry a cookie access token may be before
// it is refreshed instead of verified
const RefreshGrace = 60 * time.Second

// Transports, used for metrics and logs
const (
	TransportBearer = "bearer"
	TransportCookie = "cookie"
)

// Result is the outcome of resolving a request's credentials
type Result struct {
	Identity  *auth.Identity
	Mobile    bool
	Refreshed *auth.TokenPair // non-nil when the cookie pair must be re-issued
}

// Resolver establishes the caller's identity from a bearer header or the
// session cookie pair
type Resolver struct {
	provider sso.Provider
	cookies  *CookieManager
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

// WithMetrics records decisions, refreshes and provider latency
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the clock used for the expiry check
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a session resolver
func NewResolver(provider sso.Provider, cookies *CookieManager, logger *observability.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		cookies:  cookies,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler resolves the session once per request. Requests that fail are
// answered with 401 and never reach next.
func (r *Resolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, rc := auth.Attach(req.Context())
		if rc.SessionResolved() {
			next.ServeHTTP(w, req.WithContext(ctx))
			return
		}

		spanCtx, span := observability.StartSpan(ctx, "session.resolve")
		result, err := r.Resolve(req.WithContext(spanCtx))
		if err != nil {
			span.SetAttributes(attribute.String("session.error", Code(err)))
			span.End()
			r.metrics.RecordDecision(observability.StageSession, observability.OutcomeDeny)
			r.logger.WithError(err).
				WithField("request_id", contextkeys.GetRequestID(ctx)).
				WithField("code", Code(err)).
				Info("session rejected")
			WriteError(w, err)
			return
		}
		span.SetAttributes(attribute.Bool("session.mobile", result.Mobile), attribute.Bool("session.refreshed", result.Refreshed != nil))
		span.End()

		if result.Refreshed != nil {
			r.cookies.SetSession(w, result.Refreshed)
		}
		rc.SetSession(result.Identity, result.Mobile)
		ctx = contextkeys.WithUserID(ctx, result.Identity.Subject)

		r.metrics.RecordDecision(observability.StageSession, observability.OutcomeAllow)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// Resolve turns the request's credentials into a verified identity.
// It calls the provider's Verify exactly once on success.
func (r *Resolver) Resolve(req *http.Request) (*Result, error) {
	ctx := req.Context()

	// only a Bearer header selects the mobile transport; other schemes
	// (Basic from a proxy, for one) leave the cookie pair in charge
	if token, ok := parseBearer(req.Header.Get("Authorization")); ok {
		if token == "" {
			return nil, fmt.Errorf("%w: empty bearer token", ErrInvalidToken)
		}
		identity, err := r.verify(ctx, token, TransportBearer)
		if err != nil {
			return nil, err
		}
		return &Result{Identity: identity, Mobile: true}, nil
	}

	access := cookieValue(req, AccessTokenCookie)
	refresh := cookieValue(req, RefreshTokenCookie)

	if access == "" {
		if refresh == "" {
			return nil, ErrNoCredentials
		}
		return r.refresh(ctx, refresh)
	}

	if r.expiring(access) {
		if refresh == "" {
			return nil, fmt.Errorf("%w: no refresh token", ErrSessionExpired)
		}
		return r.refresh(ctx, refresh)
	}

	identity, err := r.verify(ctx, access, TransportCookie)
	if err != nil {
		return nil, err
	}
	return &Result{Identity: identity}, nil
}

// expiring peeks at the exp claim without verifying the signature.
// Undecodable tokens count as expiring so they go through refresh and
// then the provider; nothing here ever grants access.
func (r *Resolver) expiring(accessToken string) bool {
	exp, err := sso.PeekExpiry(accessToken)
	if err != nil {
		return true
	}
	return !exp.After(r.now().Add(RefreshGrace))
}

func (r *Resolver) refresh(ctx context.Context, refreshToken string) (*Result, error) {
	pair, err := r.provider.Refresh(ctx, refreshToken)
	if err != nil || !pair.Complete() {
		r.metrics.RecordRefresh("failure")
		if err == nil {
			err = errors.New("incomplete token pair")
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	r.metrics.RecordRefresh("success")

	identity, err := r.verify(ctx, pair.AccessToken, TransportCookie)
	if err != nil {
		return nil, err
	}
	return &Result{Identity: identity, Refreshed: pair}, nil
}

func (r *Resolver) verify(ctx context.Context, token, transport string) (*auth.Identity, error) {
	start := time.Now()
	identity, err := r.provider.Verify(ctx, token)
	r.metrics.ObserveVerify(transport, time.Since(start))
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			err = fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return nil, err
	}
	if identity == nil || identity.Subject == "" {
		return nil, fmt.Errorf("%w: provider returned no subject", ErrInvalidToken)
	}
	return identity, nil
}

// LogoutHandler clears the session cookie pair
func (r *Resolver) LogoutHandler(w http.ResponseWriter, req *http.Request) {
	r.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// parseBearer reports whether header uses the Bearer scheme and returns
// its token, which may be empty
func parseBearer(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	if len(parts) < 2 {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

func cookieValue(req *http.Request, name string) string {
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
