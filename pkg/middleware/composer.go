package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Route declares what a route needs beyond an authenticated session.
// Both fields are optional.
type Route struct {
	Permission  string
	Entitlement string
}

// Stage is a middleware step that always runs
type Stage interface {
	Handler(next http.Handler) http.Handler
}

// PermissionStage builds the per-route permission step
type PermissionStage interface {
	RequirePermission(permission string) func(http.Handler) http.Handler
}

// EntitlementStage builds the per-route entitlement step
type EntitlementStage interface {
	Require(key string) func(http.Handler) http.Handler
}

// Composer orders the identity pipeline in front of business handlers:
// client rate limit, session, rate limit, profile, permission, entitlement,
// handler.
type Composer struct {
	clientLimit  Stage
	session      Stage
	rateLimit    Stage
	profile      Stage
	permissions  PermissionStage
	entitlements EntitlementStage
}

// ComposerOption configures a Composer
type ComposerOption func(*Composer)

// WithRateLimit adds a rate limit step right after session resolution
func WithRateLimit(stage Stage) ComposerOption {
	return func(c *Composer) { c.rateLimit = stage }
}

// WithClientRateLimit adds a rate limit step in front of session resolution,
// so it also counts requests that never authenticate
func WithClientRateLimit(stage Stage) ComposerOption {
	return func(c *Composer) { c.clientLimit = stage }
}

// NewComposer creates a composer. session and profile are mandatory stages.
func NewComposer(session, profile Stage, permissions PermissionStage, entitlements EntitlementStage, opts ...ComposerOption) *Composer {
	c := &Composer{
		session:      session,
		profile:      profile,
		permissions:  permissions,
		entitlements: entitlements,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wrap puts h behind the stages route requires. It panics when route
// names a permission or entitlement the composer has no stage for.
func (c *Composer) Wrap(route Route, h http.Handler) http.Handler {
	if route.Entitlement != "" {
		if c.entitlements == nil {
			panic("middleware: route requires an entitlement but no entitlement stage is configured")
		}
		h = c.entitlements.Require(route.Entitlement)(h)
	}
	if route.Permission != "" {
		if c.permissions == nil {
			panic("middleware: route requires a permission but no permission stage is configured")
		}
		h = c.permissions.RequirePermission(route.Permission)(h)
	}
	h = c.profile.Handler(h)
	if c.rateLimit != nil {
		h = c.rateLimit.Handler(h)
	}
	h = c.session.Handler(h)
	if c.clientLimit != nil {
		h = c.clientLimit.Handler(h)
	}
	return h
}

// Handle registers h on router for method and path behind Wrap
func (c *Composer) Handle(router *mux.Router, method, path string, route Route, h http.Handler) *mux.Route {
	return router.Handle(path, c.Wrap(route, h)).Methods(method)
}

// HandleFunc is Handle for handler functions
func (c *Composer) HandleFunc(router *mux.Router, method, path string, route Route, h http.HandlerFunc) *mux.Route {
	return c.Handle(router, method, path, route, h)
}
