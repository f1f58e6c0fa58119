// Package sso implements the single sign-on relying-party core: provider
// adapters for the OAuth2 authorization-code, PKCE-augmented OAuth2/OIDC,
// and SAML 2.0 assertion families behind one Provider interface.
//
// # Supported Families
//
// OAuth2: plain authorization-code exchange plus a userinfo call
// OIDC: discovery, ID-token verification and PKCE (Azure AD, Okta, Google)
// SAML 2.0: signed-assertion validation against a trusted IdP certificate
//
// # Usage Example
//
// Configure a provider and build a registry:
//
//	cfg := &sso.ProviderConfig{
//		Key:    "okta",
//		Family: sso.FamilyOIDC,
//		Enabled: true,
//		OIDC: &sso.OIDCConfig{
//			IssuerURL:   "https://example.okta.com",
//			ClientID:    clientID,
//			RedirectURL: "https://app.example.com/auth/sso/okta/callback",
//			Scopes:      []string{"openid", "profile", "email"},
//		},
//		AttributeMapping: sso.AttributeMap{UserID: "sub", Email: "email"},
//	}
//	registry, err := sso.NewRegistry(ctx, sso.RegistryOptions{}, cfg)
//
// Adapters return identity facts only. Account linking lives in
// pkg/accounts, anti-forgery state in pkg/state, and the beginLogin /
// completeLogin sequencing in pkg/orchestrator.
package sso
