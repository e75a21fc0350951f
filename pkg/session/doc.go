// Package session resolves the caller's identity for every request.
//
// Two transports are supported:
//
//   - Mobile clients send "Authorization: Bearer <token>". The header wins over
//     any cookies, the token is verified with the identity provider and no
//     cookies are written.
//   - Browsers send the access_token/refresh_token cookie pair. An access
//     token expiring within RefreshGrace is refreshed first and both cookies
//     are re-issued together; otherwise it is verified as is.
//
// The expiry check decodes the token without verifying it. It only picks the
// path; the provider's Verify call is the trust decision and runs exactly once
// per request.
//
// Resolver.Handler marks the request context as resolved, so mounting it more
// than once in a chain does not repeat the work.
package session
