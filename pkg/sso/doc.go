// Package sso is the client side of the external identity provider.
//
// Token signing and session storage belong to the provider. This package only
// verifies access tokens and exchanges refresh tokens, over OpenID Connect:
//
//	provider, err := sso.NewOIDCProvider(ctx, &sso.OIDCConfig{
//		IssuerURL:  "https://idp.example.com",
//		ClientID:   "crm-web",
//		VerifyMode: sso.VerifyUserInfo,
//	})
//	identity, err := provider.Verify(ctx, accessToken)
//	pair, err := provider.Refresh(ctx, refreshToken)
//
// PeekExpiry decodes the exp claim locally so the session resolver can decide
// to refresh before spending a provider round-trip on a token about to expire.
package sso
