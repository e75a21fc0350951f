package sso

import (
	"context"
	"errors"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

var (
	// ErrInvalidToken is returned when the identity provider rejects an access token
	ErrInvalidToken = errors.New("invalid token")

	// ErrRefreshFailed is returned when a refresh token cannot be exchanged
	// for a complete token pair
	ErrRefreshFailed = errors.New("refresh token exchange failed")

	// ErrNoExpiry is returned by PeekExpiry for tokens without an exp claim
	ErrNoExpiry = errors.New("token has no expiry claim")
)

// Provider is the external identity provider. Verify is the only trust
// decision in the session pipeline; everything else is plumbing around it.
type Provider interface {
	// Verify validates an access token and returns the principal it belongs to
	Verify(ctx context.Context, accessToken string) (*auth.Identity, error)

	// Refresh exchanges a refresh token for a new token pair
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
}
