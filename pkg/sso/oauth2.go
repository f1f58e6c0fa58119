package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Provider implements the plain authorization-code family: exchange
// the code with client credentials, then fetch identity claims from the
// userinfo endpoint.
type OAuth2Provider struct {
	cfg          *ProviderConfig
	oauth2Config *oauth2.Config
	httpClient   *http.Client
	timeout      time.Duration
}

// NewOAuth2Provider creates a new authorization-code adapter.
func NewOAuth2Provider(cfg *ProviderConfig, opts RegistryOptions) (*OAuth2Provider, error) {
	oc := cfg.OAuth2
	if oc.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if oc.ClientSecret == "" {
		return nil, fmt.Errorf("client_secret is required")
	}
	if oc.AuthURL == "" {
		return nil, fmt.Errorf("auth_url is required")
	}
	if oc.TokenURL == "" {
		return nil, fmt.Errorf("token_url is required")
	}
	if oc.UserinfoURL == "" {
		return nil, fmt.Errorf("userinfo_url is required")
	}
	if oc.RedirectURL == "" {
		return nil, fmt.Errorf("redirect_url is required")
	}
	if len(oc.Scopes) == 0 {
		return nil, fmt.Errorf("scopes are required")
	}

	return &OAuth2Provider{
		cfg: cfg,
		oauth2Config: &oauth2.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  oc.AuthURL,
				TokenURL: oc.TokenURL,
			},
			RedirectURL: oc.RedirectURL,
			Scopes:      oc.Scopes,
		},
		httpClient: opts.HTTPClient,
		timeout:    opts.exchangeTimeout(),
	}, nil
}

// Key returns the provider identifier.
func (p *OAuth2Provider) Key() string { return p.cfg.Key }

// Family returns FamilyOAuth2.
func (p *OAuth2Provider) Family() ProviderFamily { return FamilyOAuth2 }

// RequiresPKCE reports false; this family proves possession with the
// client secret alone.
func (p *OAuth2Provider) RequiresPKCE() bool { return false }

// LoginRedirect builds the authorization URL with the state token.
func (p *OAuth2Provider) LoginRedirect(state, _ string) (string, error) {
	return p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// ResolveCallback exchanges the authorization code and maps the userinfo
// response onto a normalized identity.
func (p *OAuth2Provider) ResolveCallback(ctx context.Context, payload CallbackPayload, _ string) (*CallbackResult, error) {
	if payload.Code == "" {
		return nil, NewError(KindProviderExchangeFailed, "missing authorization code")
	}

	ctx, cancel := context.WithTimeout(p.exchangeContext(ctx), p.timeout)
	defer cancel()

	token, err := p.oauth2Config.Exchange(ctx, payload.Code)
	if err != nil {
		return nil, WrapError(KindProviderExchangeFailed, "token exchange failed", err)
	}

	claims, err := p.fetchUserinfo(ctx, token)
	if err != nil {
		return nil, WrapError(KindProviderExchangeFailed, "userinfo request failed", err)
	}

	identity := identityFromClaims(p.cfg.Key, claims, p.cfg.AttributeMapping)
	if identity.ProviderUserID == "" {
		return nil, NewError(KindMissingRequiredClaim, "provider response lacks a user id")
	}

	return &CallbackResult{
		Identity:       identity,
		ProviderTokens: providerTokens(token),
		ExpiresAt:      token.Expiry,
	}, nil
}

func (p *OAuth2Provider) fetchUserinfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	client := p.oauth2Config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.OAuth2.UserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, string(body))
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return claims, nil
}

func (p *OAuth2Provider) exchangeContext(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}

// identityFromClaims maps a claim set onto the normalized identity using
// the provider's attribute mapping. String claims are also retained in
// Metadata for downstream consumers.
func identityFromClaims(providerKey string, claims map[string]interface{}, mapping AttributeMap) *ExternalIdentity {
	identity := &ExternalIdentity{
		Provider: providerKey,
		Metadata: make(map[string]string),
	}

	for k, v := range claims {
		if s, ok := v.(string); ok {
			identity.Metadata[k] = s
		}
	}

	identity.ProviderUserID = stringClaim(claims, mapping.UserID)
	identity.Email = stringClaim(claims, mapping.Email)
	identity.FirstName = stringClaim(claims, mapping.FirstName)
	identity.LastName = stringClaim(claims, mapping.LastName)
	identity.DisplayName = stringClaim(claims, mapping.DisplayName)
	identity.RoleHint = stringClaim(claims, mapping.Role)

	return identity
}

func stringClaim(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	switch v := claims[key].(type) {
	case string:
		return v
	case []interface{}:
		// Some providers assert single-valued claims as one-element arrays.
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func providerTokens(token *oauth2.Token) map[string]string {
	tokens := map[string]string{TokenAccess: token.AccessToken}
	if token.RefreshToken != "" {
		tokens[TokenRefresh] = token.RefreshToken
	}
	if id, ok := token.Extra("id_token").(string); ok && id != "" {
		tokens[TokenID] = id
	}
	return tokens
}
