package session

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/sso"
)

// Error codes written in 401 responses
const (
	CodeNoCredentials  = "NO_CREDENTIALS"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeSessionExpired = "SESSION_EXPIRED"
)

var (
	// ErrNoCredentials means the request carried neither a bearer header nor session cookies
	ErrNoCredentials = errors.New("no credentials")

	// ErrSessionExpired means the access token is expiring and no refresh was possible
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidToken means the identity provider rejected the token
	ErrInvalidToken = sso.ErrInvalidToken
)

// WriteError writes the 401 response for a resolution error
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoCredentials):
		httputil.WriteCodedError(w, http.StatusUnauthorized, CodeNoCredentials, "authentication required", nil)
	case errors.Is(err, ErrSessionExpired):
		httputil.WriteCodedError(w, http.StatusUnauthorized, CodeSessionExpired, "session expired, please sign in again", nil)
	default:
		httputil.WriteCodedError(w, http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token", nil)
	}
}

// Code returns the error code WriteError would use
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return CodeNoCredentials
	case errors.Is(err, ErrSessionExpired):
		return CodeSessionExpired
	default:
		return CodeInvalidToken
	}
}
