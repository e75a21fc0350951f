package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/entitlements"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profile"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
	"github.com/platinummonkey/tenantgate/pkg/session"
	"github.com/platinummonkey/tenantgate/pkg/sso"
)

// recorder appends the name of every stage that runs
type recorder struct {
	calls []string
}

type namedStage struct {
	name string
	rec  *recorder
}

func (s namedStage) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.rec.calls = append(s.rec.calls, s.name)
		next.ServeHTTP(w, r)
	})
}

func (s namedStage) RequirePermission(permission string) func(http.Handler) http.Handler {
	return namedStage{name: s.name + ":" + permission, rec: s.rec}.Handler
}

func (s namedStage) Require(key string) func(http.Handler) http.Handler {
	return namedStage{name: s.name + ":" + key, rec: s.rec}.Handler
}

func TestComposer_StageOrder(t *testing.T) {
	rec := &recorder{}
	c := NewComposer(
		namedStage{"session", rec},
		namedStage{"profile", rec},
		namedStage{"permission", rec},
		namedStage{"entitlement", rec},
		WithRateLimit(namedStage{"ratelimit", rec}),
		WithClientRateLimit(namedStage{"clientlimit", rec}),
	)

	router := mux.NewRouter()
	c.HandleFunc(router, http.MethodPost, "/api/users",
		Route{Permission: "user.create", Entitlement: "maxUsers"},
		func(w http.ResponseWriter, r *http.Request) { rec.calls = append(rec.calls, "handler") })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/users", nil))

	assert.Equal(t, []string{
		"clientlimit", "session", "ratelimit", "profile", "permission:user.create", "entitlement:maxUsers", "handler",
	}, rec.calls)
}

func TestComposer_OptionalStagesAreSkipped(t *testing.T) {
	rec := &recorder{}
	c := NewComposer(namedStage{"session", rec}, namedStage{"profile", rec}, nil, nil)

	c.Wrap(Route{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.calls = append(rec.calls, "handler")
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"session", "profile", "handler"}, rec.calls)
}

func TestComposer_MissingStagePanics(t *testing.T) {
	rec := &recorder{}
	c := NewComposer(namedStage{"session", rec}, namedStage{"profile", rec}, nil, nil)

	assert.Panics(t, func() { c.Wrap(Route{Permission: "lead.view"}, http.NotFoundHandler()) })
	assert.Panics(t, func() { c.Wrap(Route{Entitlement: "maxUsers"}, http.NotFoundHandler()) })
}

type tokenProvider struct {
	tokens   map[string]*auth.Identity
	verifies int
}

func (p *tokenProvider) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	p.verifies++
	if id, ok := p.tokens[token]; ok {
		return id, nil
	}
	return nil, sso.ErrInvalidToken
}

func (p *tokenProvider) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	return nil, sso.ErrRefreshFailed
}

type countingLoader struct {
	profiles map[string]*auth.Profile
	calls    int
}

func (l *countingLoader) GetByIdentity(ctx context.Context, identityID string) (*auth.Profile, error) {
	l.calls++
	if p, ok := l.profiles[identityID]; ok {
		return p, nil
	}
	return nil, profile.ErrProfileNotFound
}

func (l *countingLoader) TenantIDForIdentity(ctx context.Context, identityID string) (int64, error) {
	l.calls++
	if p, ok := l.profiles[identityID]; ok {
		return p.TenantID, nil
	}
	return 0, profile.ErrProfileNotFound
}

type grants map[int64][]string

func (g grants) CheckPermission(ctx context.Context, p *auth.Profile, permission string) (bool, error) {
	if p.IsSuperAdmin() {
		return true, nil
	}
	for _, name := range g[p.ID] {
		if name == permission {
			return true, nil
		}
	}
	return false, nil
}

type planChecker struct {
	allowed bool
	checks  int
}

func (c *planChecker) Check(ctx context.Context, tenantID int64, key string) (*entitlements.Decision, error) {
	c.checks++
	current, limit := int64(5), int64(5)
	if c.allowed {
		current = 4
	}
	return &entitlements.Decision{
		Key: key, Kind: entitlements.ResourceCount, Resource: "Team Members",
		Allowed: c.allowed, Current: &current, Limit: &limit,
	}, nil
}

func (c *planChecker) Registry() *entitlements.Registry {
	return entitlements.DefaultRegistry()
}

type pipeline struct {
	router   *mux.Router
	provider *tokenProvider
	loader   *countingLoader
	plans    *planChecker
}

func newPipeline(t *testing.T, plansAllowed bool, opts ...ComposerOption) *pipeline {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	provider := &tokenProvider{tokens: map[string]*auth.Identity{
		"ada-token": {Subject: "idp|ada", Email: "ada@example.com"},
		"bob-token": {Subject: "idp|bob"},
		"eve-token": {Subject: "idp|eve"},
	}}
	loader := &countingLoader{profiles: map[string]*auth.Profile{
		"idp|ada": {ID: 1, IdentityID: "idp|ada", TenantID: 7, Type: auth.ProfileTypeUser, Permissions: []string{"user.create"}},
		"idp|bob": {ID: 2, IdentityID: "idp|bob", TenantID: 7, Type: auth.ProfileTypeUser, Permissions: []string{"lead.view"}},
	}}
	plans := &planChecker{allowed: plansAllowed}

	sessions := session.NewResolver(provider, session.NewCookieManager(false, ""), logger,
		session.WithClock(func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }))
	c := NewComposer(
		sessions,
		profile.NewResolver(loader, logger, nil),
		rbac.NewPermissionMiddleware(grants{1: {"user.create"}, 2: {"lead.view"}}, loader, logger, nil),
		entitlements.NewMiddleware(plans, loader, logger, nil),
		opts...,
	)

	router := mux.NewRouter()
	c.HandleFunc(router, http.MethodPost, "/api/users",
		Route{Permission: "user.create", Entitlement: entitlements.KeyMaxUsers},
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(auth.FromContext(r.Context()).Snapshot())
		})

	return &pipeline{router: router, provider: provider, loader: loader, plans: plans}
}

func (p *pipeline) do(token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)
	return rec
}

func TestPipeline_AllowedRequestLoadsProfileOnce(t *testing.T) {
	p := newPipeline(t, true)

	rec := p.do("ada-token")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot auth.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snapshot))
	assert.True(t, snapshot.IsMobileRequest)
	assert.Equal(t, "idp|ada", snapshot.Identity.Subject)
	assert.Equal(t, int64(7), snapshot.Profile.TenantID)

	assert.Equal(t, 1, p.loader.calls)
	assert.Equal(t, 1, p.plans.checks)
}

func TestPipeline_MissingPermissionStopsBeforeEntitlements(t *testing.T) {
	p := newPipeline(t, true)

	rec := p.do("bob-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.CodeMissingPermission)
	assert.Zero(t, p.plans.checks)
}

func TestPipeline_PlanLimitReached(t *testing.T) {
	p := newPipeline(t, false)

	rec := p.do("ada-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), entitlements.CodePlanLimitReached)
	assert.Contains(t, rec.Body.String(), "Team Members")
}

func TestPipeline_NoProfile(t *testing.T) {
	p := newPipeline(t, true)

	rec := p.do("eve-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), profile.CodeProfileNotFound)
}

func TestPipeline_Unauthenticated(t *testing.T) {
	p := newPipeline(t, true)

	rec := p.do("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), session.CodeNoCredentials)
	assert.Zero(t, p.loader.calls)

	rec = p.do("forged-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), session.CodeInvalidToken)
	assert.Zero(t, p.loader.calls)
}

func TestPipeline_ClientRateLimitStopsTokenGuessing(t *testing.T) {
	limiter, err := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, MaxBuckets: 10})
	require.NoError(t, err)
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	p := newPipeline(t, true, WithClientRateLimit(NewClientIPRateLimitMiddleware(limiter, false, logger, nil)))

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, p.do("forged-token").Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, p.provider.verifies)
}
