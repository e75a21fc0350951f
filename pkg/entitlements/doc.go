// Package entitlements decides whether a tenant's subscription plan allows
// a metered action.
//
// A Registry maps keys to the way usage is measured:
//
//	ResourceCount    - rows in a tenant table, e.g. maxUsers counts profiles
//	ResourceValue    - a usage column tracked on the subscription row
//	ResourceFeature  - a boolean plan flag with an optional subscription override
//	ResourceModule   - an entry in the plan's JSON modules map
//
// For count and value keys the effective limit is the subscription override
// when set, else the plan default, else zero; the action is allowed iff
// current < limit. A tenant without an active subscription therefore gets
// a limit of zero.
//
// Evaluator.Check fails open: when the subscription or usage lookup errors
// the decision is allowed and marked FailOpen, and the error is logged and
// counted. Genuine denials always fail closed with a LimitError, written
// as 403 PLAN_LIMIT_REACHED, PLAN_FEATURE_LOCKED or PLAN_MODULE_LOCKED.
//
// Check is a read-then-decide test and is advisory under concurrency: two
// requests below the limit can both pass and both insert. Callers that need
// an exact limit run their insert through Evaluator.WithinLimit, which
// serialises on a transaction-scoped advisory lock per tenant and key.
package entitlements
