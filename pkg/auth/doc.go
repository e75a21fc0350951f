// Package auth defines the request-scoped identity model shared by the
// authentication, authorization and entitlement middleware.
//
// # Overview
//
// An Identity is the principal verified by the external identity provider.
// A Profile is the tenant-bound application user derived from it: tenant id,
// a flattened role and the flattened permission names of every assigned role.
//
// # Request context
//
// session.Resolver attaches one *RequestContext to each request. Later stages
// read and fill it in place:
//
//	rc := auth.FromContext(r.Context())
//	identity := rc.Identity()
//	profile, err := rc.LoadProfile(func() (*auth.Profile, error) {
//		return store.GetByIdentity(ctx, identity.Subject)
//	})
//
// LoadProfile memoizes successful loads, so the profile resolver and the
// permission evaluator never query the same profile twice within a request.
// Nothing in this package outlives a request; roles, permissions and plans
// can change between requests.
package auth
