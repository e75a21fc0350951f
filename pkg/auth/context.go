package auth

import (
	"context"
	"sync"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// RequestContext carries the identity and profile of one request across
// the middleware chain. It is attached once and mutated in place so a
// profile loaded by one stage is visible to every later stage.
type RequestContext struct {
	mu              sync.Mutex
	identity        *Identity
	profile         *Profile
	mobile          bool
	sessionResolved bool
}

// Snapshot is the JSON view of a RequestContext handed to business handlers
type Snapshot struct {
	Identity        *Identity `json:"identity"`
	Profile         *Profile  `json:"profile"`
	IsMobileRequest bool      `json:"isMobileRequest"`
}

// FromContext returns the request context, or nil if none is attached
func FromContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(contextkeys.RequestContextKey).(*RequestContext); ok {
		return rc
	}
	return nil
}

// Attach returns ctx with a RequestContext, reusing an existing one
func Attach(ctx context.Context) (context.Context, *RequestContext) {
	if rc := FromContext(ctx); rc != nil {
		return ctx, rc
	}
	rc := &RequestContext{}
	return contextkeys.WithRequestContext(ctx, rc), rc
}

// SetSession records the verified identity and marks the session step done
func (rc *RequestContext) SetSession(identity *Identity, mobile bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.identity = identity
	rc.mobile = mobile
	rc.sessionResolved = true
}

// SessionResolved reports whether the session step already ran for this request
func (rc *RequestContext) SessionResolved() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.sessionResolved
}

// Identity returns the verified identity
func (rc *RequestContext) Identity() *Identity {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.identity
}

// IsMobile reports whether the request authenticated with a bearer header
func (rc *RequestContext) IsMobile() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.mobile
}

// Profile returns the cached profile, or nil
func (rc *RequestContext) Profile() *Profile {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.profile
}

// SetProfile caches a profile for the rest of the request
func (rc *RequestContext) SetProfile(p *Profile) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.profile = p
}

// LoadProfile returns the cached profile or calls load and caches its result.
// Failed loads are not cached.
func (rc *RequestContext) LoadProfile(load func() (*Profile, error)) (*Profile, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.profile != nil {
		return rc.profile, nil
	}

	p, err := load()
	if err != nil {
		return nil, err
	}
	rc.profile = p
	return p, nil
}

// Snapshot copies the current state for serialization
func (rc *RequestContext) Snapshot() Snapshot {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Snapshot{
		Identity:        rc.identity,
		Profile:         rc.profile,
		IsMobileRequest: rc.mobile,
	}
}

// GetIdentity returns the verified identity from ctx, or nil
func GetIdentity(ctx context.Context) *Identity {
	if rc := FromContext(ctx); rc != nil {
		return rc.Identity()
	}
	return nil
}

// GetProfile returns the cached profile from ctx, or nil
func GetProfile(ctx context.Context) *Profile {
	if rc := FromContext(ctx); rc != nil {
		return rc.Profile()
	}
	return nil
}

// IsMobileRequest reports whether the request used the bearer transport
func IsMobileRequest(ctx context.Context) bool {
	if rc := FromContext(ctx); rc != nil {
		return rc.IsMobile()
	}
	return false
}
