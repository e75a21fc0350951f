// Package middleware composes the per-request identity pipeline and
// provides rate limiting.
//
// # Composer
//
// Every route goes through the same fixed order:
//
//	client rate limit → session → rate limit → profile → permission → entitlement → handler
//
// Session resolution and profile resolution always run; both rate limits
// are optional. A route opts into
// a permission and/or an entitlement through Route:
//
//	composer := middleware.NewComposer(sessions, profiles, permissions, plans,
//		middleware.WithRateLimit(limiter))
//	composer.Handle(router, http.MethodPost, "/api/users",
//		middleware.Route{Permission: "user.create", Entitlement: "maxUsers"},
//		http.HandlerFunc(createUser))
//
// Stages share a single auth.RequestContext, so the profile is loaded at
// most once per request whichever stage needs it first.
//
// # Rate limiting
//
// RateLimiter is an in-memory token bucket whose buckets are held in an
// LRU cache. DistributedRateLimiter keeps a fixed-window counter per key in
// Redis so the limit is shared across instances. NewRateLimitMiddleware
// keys by identity subject and NewClientIPRateLimitMiddleware by client
// address; the latter runs before the session stage, so requests with bad
// credentials are throttled before they reach the identity provider. Both
// fail open when the limiter errors.
package middleware
