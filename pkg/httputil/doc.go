// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Error responses
//
// Every error body has the same shape so clients can branch on the code:
//
//	{"error": "PLAN_LIMIT_REACHED", "message": "...", "details": {"limit": 5, "current": 5, "resource": "Team Members"}}
//
//	httputil.WriteCodedError(w, http.StatusForbidden, "MISSING_PERMISSION", "missing permission lead.delete",
//		map[string]interface{}{"permission": "lead.delete"})
//
// # Request parsing
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	if !ok {
//		return
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
