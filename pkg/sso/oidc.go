package sso

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// Verification modes
const (
	// VerifyUserInfo calls the provider's userinfo endpoint with the access
	// token. Revoked sessions are rejected immediately.
	VerifyUserInfo = "userinfo"

	// VerifyJWKS validates the access token signature against the provider's
	// published keys. The token audience must contain the client ID.
	VerifyJWKS = "jwks"
)

// OIDCConfig holds the provider connection parameters
type OIDCConfig struct {
	IssuerURL       string
	ClientID        string
	ClientSecret    string
	Scopes          []string
	VerifyMode      string
	SkipIssuerCheck bool

	// HTTPClient is used for discovery, verification and refresh calls.
	// Defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
}

// OIDCProvider implements Provider against an OpenID Connect issuer
type OIDCProvider struct {
	config       *OIDCConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// NewOIDCProvider discovers the issuer and builds the verifier and OAuth2 client
func NewOIDCProvider(ctx context.Context, config *OIDCConfig) (*OIDCProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	ctx = oidc.ClientContext(ctx, httpClient)

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
	})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       config.Scopes,
	}

	return &OIDCProvider{
		config:       config,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
		httpClient:   httpClient,
	}, nil
}

// Verify validates an access token with the identity provider
func (p *OIDCProvider) Verify(ctx context.Context, accessToken string) (*auth.Identity, error) {
	if accessToken == "" {
		return nil, ErrInvalidToken
	}
	ctx = oidc.ClientContext(ctx, p.httpClient)

	var identity *auth.Identity
	var err error
	if p.config.VerifyMode == VerifyJWKS {
		identity, err = p.verifyJWKS(ctx, accessToken)
	} else {
		identity, err = p.verifyUserInfo(ctx, accessToken)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if identity.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return identity, nil
}

func (p *OIDCProvider) verifyUserInfo(ctx context.Context, accessToken string) (*auth.Identity, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, err
	}
	return &auth.Identity{Subject: userInfo.Subject, Email: userInfo.Email}, nil
}

func (p *OIDCProvider) verifyJWKS(ctx context.Context, accessToken string) (*auth.Identity, error) {
	token, err := p.verifier.Verify(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	return &auth.Identity{Subject: token.Subject, Email: claims.Email}, nil
}

// Refresh exchanges a refresh token at the provider's token endpoint.
// Providers that do not rotate refresh tokens get the original one back.
func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrRefreshFailed
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	// An empty access token is never valid, so Token() always hits the endpoint
	token, err := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	pair := &auth.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if !pair.Complete() {
		return nil, fmt.Errorf("%w: incomplete token pair", ErrRefreshFailed)
	}
	return pair, nil
}

// Validate validates the OIDC configuration
func (c *OIDCConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("OIDC config is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	switch c.VerifyMode {
	case "":
		c.VerifyMode = VerifyUserInfo
	case VerifyUserInfo, VerifyJWKS:
	default:
		return fmt.Errorf("unknown verify mode %q", c.VerifyMode)
	}
	return nil
}
