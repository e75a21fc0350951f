package auth

import (
	"strings"
	"time"
)

// Identity is the principal verified by the identity provider.
// It only lives for the duration of a request and is never persisted here.
type Identity struct {
	Subject string `json:"id"`
	Email   string `json:"email,omitempty"`
}

// TokenPair is an access/refresh token pair issued by the identity provider
type TokenPair struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	Expiry       time.Time `json:"expires_at"`
}

// Complete reports whether both tokens are present
func (p *TokenPair) Complete() bool {
	return p != nil && p.AccessToken != "" && p.RefreshToken != ""
}

// ProfileType discriminates platform superadmins from tenant users
type ProfileType string

const (
	ProfileTypeUser       ProfileType = "user"
	ProfileTypeSuperAdmin ProfileType = "superadmin"
)

// RoleSummary is the flattened role attached to a profile
type RoleSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Profile is the tenant-bound user record derived from an Identity
type Profile struct {
	ID          int64        `json:"id"`
	IdentityID  string       `json:"identity_id"`
	TenantID    int64        `json:"tenant_id"`
	Type        ProfileType  `json:"type"`
	Email       string       `json:"email,omitempty"`
	Role        *RoleSummary `json:"role"`
	Permissions []string     `json:"permissions"`
}

// IsSuperAdmin reports whether the profile bypasses role checks
func (p *Profile) IsSuperAdmin() bool {
	return p != nil && strings.EqualFold(string(p.Type), string(ProfileTypeSuperAdmin))
}
