// Package profile resolves the tenant-bound user record behind a verified
// identity.
//
// A Profile is loaded with a single joined query (profile, user roles,
// roles, role permissions, permissions) and flattened into one role summary
// plus the union of every assigned role's permission names. The result is
// cached on the request's auth.RequestContext so the permission and
// entitlement stages never issue the same lookup twice.
//
// Lookup failures are not fatal here: Resolver.Handler logs them and lets
// the request continue without a profile. Stages that need one treat its
// absence as "no access".
package profile
