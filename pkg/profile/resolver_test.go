package profile

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

type stubLoader struct {
	profile *auth.Profile
	err     error
	calls   int
}

func (s *stubLoader) GetByIdentity(ctx context.Context, identityID string) (*auth.Profile, error) {
	s.calls++
	return s.profile, s.err
}

func newTestResolver(loader Loader) (*Resolver, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewResolver(loader, observability.NewLogger(observability.DebugLevel, buf), nil), buf
}

func sessionContext(identity *auth.Identity) context.Context {
	ctx, rc := auth.Attach(context.Background())
	rc.SetSession(identity, false)
	return ctx
}

func TestResolver_ResolveCachesProfile(t *testing.T) {
	loader := &stubLoader{profile: &auth.Profile{ID: 1, TenantID: 7}}
	resolver, _ := newTestResolver(loader)
	identity := &auth.Identity{Subject: "idp|1"}
	ctx := sessionContext(identity)

	first := resolver.Resolve(ctx, identity)
	second := resolver.Resolve(ctx, identity)

	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, 1, loader.calls)
	assert.Same(t, first, auth.GetProfile(ctx))
}

func TestResolver_ResolveShortCircuitsOnCachedProfile(t *testing.T) {
	loader := &stubLoader{}
	resolver, _ := newTestResolver(loader)
	identity := &auth.Identity{Subject: "idp|1"}
	ctx := sessionContext(identity)

	cached := &auth.Profile{ID: 9, TenantID: 3}
	auth.FromContext(ctx).SetProfile(cached)

	assert.Same(t, cached, resolver.Resolve(ctx, identity))
	assert.Zero(t, loader.calls)
}

func TestResolver_ResolveSwallowsErrors(t *testing.T) {
	loader := &stubLoader{err: errors.New("connection refused")}
	resolver, logs := newTestResolver(loader)
	identity := &auth.Identity{Subject: "idp|1"}
	ctx := sessionContext(identity)

	assert.Nil(t, resolver.Resolve(ctx, identity))
	assert.Nil(t, auth.GetProfile(ctx))
	assert.Contains(t, logs.String(), "profile lookup failed")
	assert.Contains(t, logs.String(), "connection refused")

	// failures are not memoized
	loader.err = nil
	loader.profile = &auth.Profile{ID: 1}
	assert.NotNil(t, resolver.Resolve(ctx, identity))
	assert.Equal(t, 2, loader.calls)
}

func TestResolver_ResolveWithoutRequestContext(t *testing.T) {
	loader := &stubLoader{profile: &auth.Profile{ID: 1}}
	resolver, _ := newTestResolver(loader)

	assert.NotNil(t, resolver.Resolve(context.Background(), &auth.Identity{Subject: "idp|1"}))
	assert.Nil(t, resolver.Resolve(context.Background(), nil))
	assert.Equal(t, 1, loader.calls)
}

func TestResolver_HandlerAlwaysCallsNext(t *testing.T) {
	tests := []struct {
		name        string
		loader      *stubLoader
		wantProfile bool
	}{
		{"found", &stubLoader{profile: &auth.Profile{ID: 1, TenantID: 7}}, true},
		{"not found", &stubLoader{err: ErrProfileNotFound}, false},
		{"infrastructure error", &stubLoader{err: errors.New("timeout")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, _ := newTestResolver(tt.loader)

			var gotProfile *auth.Profile
			called := false
			handler := resolver.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotProfile = auth.GetProfile(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(sessionContext(&auth.Identity{Subject: "idp|1"}))
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.True(t, called)
			assert.Equal(t, tt.wantProfile, gotProfile != nil)
		})
	}
}

func TestResolver_HandlerSkipsAnonymousRequests(t *testing.T) {
	loader := &stubLoader{}
	resolver, _ := newTestResolver(loader)

	rec := httptest.NewRecorder()
	resolver.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Zero(t, loader.calls)
}
