package sso

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCProvider implements the PKCE-augmented OAuth2 family on top of
// OpenID Connect: endpoints come from issuer discovery, the ID token is
// verified against the issuer keys, and the code exchange presents the
// original code verifier.
type OIDCProvider struct {
	cfg          *ProviderConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	httpClient   *http.Client
	timeout      time.Duration
}

// NewOIDCProvider creates a new OIDC adapter using issuer discovery.
func NewOIDCProvider(ctx context.Context, cfg *ProviderConfig, opts RegistryOptions) (*OIDCProvider, error) {
	oc := cfg.OIDC
	if oc.IssuerURL == "" {
		return nil, fmt.Errorf("issuer_url is required")
	}
	if oc.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if oc.RedirectURL == "" {
		return nil, fmt.Errorf("redirect_url is required")
	}
	if len(oc.Scopes) == 0 {
		return nil, fmt.Errorf("scopes are required")
	}
	hasOpenID := false
	for _, scope := range oc.Scopes {
		if scope == oidc.ScopeOpenID {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return nil, fmt.Errorf("%q scope is required for oidc", oidc.ScopeOpenID)
	}

	if opts.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, opts.HTTPClient)
	}
	provider, err := oidc.NewProvider(ctx, oc.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("issuer discovery failed: %w", err)
	}

	return &OIDCProvider{
		cfg:      cfg,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: oc.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  oc.RedirectURL,
			Scopes:       oc.Scopes,
		},
		httpClient: opts.HTTPClient,
		timeout:    opts.exchangeTimeout(),
	}, nil
}

// Key returns the provider identifier.
func (p *OIDCProvider) Key() string { return p.cfg.Key }

// Family returns FamilyOIDC.
func (p *OIDCProvider) Family() ProviderFamily { return FamilyOIDC }

// RequiresPKCE reports true; the code exchange is bound to the verifier
// minted at beginLogin.
func (p *OIDCProvider) RequiresPKCE() bool { return true }

// LoginRedirect builds the authorization URL with the state token and the
// S256 code challenge.
func (p *OIDCProvider) LoginRedirect(state, pkceChallenge string) (string, error) {
	if pkceChallenge == "" {
		return "", fmt.Errorf("pkce challenge is required for provider %s", p.cfg.Key)
	}
	return p.oauth2Config.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", PKCEChallengeMethod),
	), nil
}

// ResolveCallback exchanges the code with the original verifier, verifies
// the ID token, and maps its claims onto a normalized identity.
func (p *OIDCProvider) ResolveCallback(ctx context.Context, payload CallbackPayload, pkceVerifier string) (*CallbackResult, error) {
	if payload.Code == "" {
		return nil, NewError(KindProviderExchangeFailed, "missing authorization code")
	}
	if pkceVerifier == "" {
		return nil, NewError(KindProviderExchangeFailed, "missing pkce verifier")
	}

	ctx, cancel := context.WithTimeout(p.exchangeContext(ctx), p.timeout)
	defer cancel()

	token, err := p.oauth2Config.Exchange(
		ctx,
		payload.Code,
		oauth2.SetAuthURLParam("code_verifier", pkceVerifier),
	)
	if err != nil {
		return nil, WrapError(KindProviderExchangeFailed, "token exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, NewError(KindProviderExchangeFailed, "provider did not return an id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, WrapError(KindProviderExchangeFailed, "id_token verification failed", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, WrapError(KindProviderExchangeFailed, "failed to parse id_token claims", err)
	}

	identity := identityFromClaims(p.cfg.Key, claims, p.cfg.AttributeMapping)
	if identity.ProviderUserID == "" {
		// The subject claim is always present on a verified ID token.
		identity.ProviderUserID = idToken.Subject
	}
	if identity.ProviderUserID == "" {
		return nil, NewError(KindMissingRequiredClaim, "id_token lacks a subject")
	}

	return &CallbackResult{
		Identity:       identity,
		ProviderTokens: providerTokens(token),
		ExpiresAt:      token.Expiry,
	}, nil
}

func (p *OIDCProvider) exchangeContext(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}
