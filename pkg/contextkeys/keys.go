// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantgate/pkg/contextkeys"
//	ctx = contextkeys.WithRequestContext(ctx, reqCtx)
//	reqCtx := ctx.Value(contextkeys.RequestContextKey).(*auth.RequestContext)
//
// Typed accessors for values owned by other packages live in those packages
// (for example auth.FromContext) so this package stays import-free.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestContextKey contains *auth.RequestContext
	// Set by: session.Resolver (pkg/session/resolver.go), once per request
	// Required by: profile.Resolver, rbac.PermissionMiddleware,
	// entitlements.Middleware and every business handler
	// Type: *auth.RequestContext
	RequestContextKey Key = "request_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the verified identity subject
	// Set by: session.Resolver after the identity provider accepts the token
	// Used by: Logger, rate limiter keys
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: cmd/tenantgate when building the root handler
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestContext attaches the per-request identity/profile cache
func WithRequestContext(ctx context.Context, reqCtx interface{}) context.Context {
	return context.WithValue(ctx, RequestContextKey, reqCtx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
