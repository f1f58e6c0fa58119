package sso

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultExchangeTimeout bounds provider token-exchange and userinfo calls.
// A timed-out exchange is a failed login, never an indefinite wait.
const DefaultExchangeTimeout = 8 * time.Second

// Provider is the capability every identity provider adapter implements.
// Adapters return identity facts only and must not perform account
// creation, linking, or session management.
type Provider interface {
	// Key returns the provider identifier (e.g. "okta", "google").
	Key() string

	// Family returns the protocol family of this adapter.
	Family() ProviderFamily

	// RequiresPKCE reports whether login attempts against this provider
	// need a code verifier minted alongside the state token.
	RequiresPKCE() bool

	// LoginRedirect builds the provider authorization URL carrying the
	// state token and, for PKCE providers, the derived challenge.
	LoginRedirect(state, pkceChallenge string) (string, error)

	// ResolveCallback performs the provider-specific exchange and yields
	// the normalized identity plus provider tokens. It fails whole on
	// provider error responses, verification failures, or a missing
	// provider user id.
	ResolveCallback(ctx context.Context, payload CallbackPayload, pkceVerifier string) (*CallbackResult, error)
}

// RegistryOptions tune adapter construction.
type RegistryOptions struct {
	// SAMLEnabled gates the whole SAML family. When false, SAML providers
	// are registered but reject both operations immediately.
	SAMLEnabled bool

	// ExchangeTimeout bounds outbound exchange calls. Zero means
	// DefaultExchangeTimeout.
	ExchangeTimeout time.Duration

	// HTTPClient overrides the client used for discovery, token exchange
	// and userinfo calls. Mainly for tests.
	HTTPClient *http.Client
}

func (o RegistryOptions) exchangeTimeout() time.Duration {
	if o.ExchangeTimeout > 0 {
		return o.ExchangeTimeout
	}
	return DefaultExchangeTimeout
}

// Registry holds the configured provider adapters, constructed once at
// startup, and looks them up by key. Disabled providers stay registered so
// lookups can distinguish "disabled" from "unknown" internally, but both
// surface as KindProviderDisabled to callers.
type Registry struct {
	providers map[string]Provider
	disabled  map[string]bool
}

// NewRegistry builds adapters for the given provider configurations.
// Construction of an enabled provider fails the whole registry; a
// misconfigured provider is a deployment error, not a runtime condition.
func NewRegistry(ctx context.Context, opts RegistryOptions, configs ...*ProviderConfig) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider),
		disabled:  make(map[string]bool),
	}

	for _, cfg := range configs {
		if cfg.Key == "" {
			return nil, fmt.Errorf("provider key is required")
		}
		if _, dup := r.providers[cfg.Key]; dup || r.disabled[cfg.Key] {
			return nil, fmt.Errorf("duplicate provider key: %s", cfg.Key)
		}

		if !cfg.Enabled {
			r.disabled[cfg.Key] = true
			continue
		}

		p, err := buildProvider(ctx, cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Key, err)
		}
		r.providers[cfg.Key] = p
	}

	return r, nil
}

// Get returns the adapter for a provider key. Unknown and disabled
// providers both yield KindProviderDisabled so callers cannot probe the
// configured provider set.
func (r *Registry) Get(key string) (Provider, error) {
	if p, ok := r.providers[key]; ok {
		return p, nil
	}
	return nil, NewError(KindProviderDisabled, fmt.Sprintf("provider %q is not available", key))
}

// Keys lists the enabled provider keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	return keys
}

func buildProvider(ctx context.Context, cfg *ProviderConfig, opts RegistryOptions) (Provider, error) {
	switch cfg.Family {
	case FamilyOAuth2:
		if cfg.OAuth2 == nil {
			return nil, fmt.Errorf("oauth2 config is required for the oauth2 family")
		}
		return NewOAuth2Provider(cfg, opts)

	case FamilyOIDC:
		if cfg.OIDC == nil {
			return nil, fmt.Errorf("oidc config is required for the oidc family")
		}
		return NewOIDCProvider(ctx, cfg, opts)

	case FamilySAML:
		if cfg.SAML == nil {
			return nil, fmt.Errorf("saml config is required for the saml family")
		}
		if !opts.SAMLEnabled {
			// Registered so both operations fail fast with a clear error
			// instead of attempting any network or parse work.
			return newDisabledSAMLProvider(cfg), nil
		}
		return NewSAMLProvider(cfg)

	default:
		return nil, fmt.Errorf("unsupported provider family: %s", cfg.Family)
	}
}

// PresetConfig returns the attribute mapping and scope preset for
// well-known providers. The caller fills in credentials and URLs.
func PresetConfig(key string) (*ProviderConfig, error) {
	switch key {
	case "azuread":
		return &ProviderConfig{
			Key:    key,
			Family: FamilyOIDC,
			AttributeMapping: AttributeMap{
				UserID:      "oid",
				Email:       "email",
				FirstName:   "given_name",
				LastName:    "family_name",
				DisplayName: "name",
			},
			OIDC: &OIDCConfig{Scopes: []string{"openid", "profile", "email"}},
		}, nil

	case "okta":
		return &ProviderConfig{
			Key:    key,
			Family: FamilyOIDC,
			AttributeMapping: AttributeMap{
				UserID:      "sub",
				Email:       "email",
				FirstName:   "given_name",
				LastName:    "family_name",
				DisplayName: "name",
			},
			OIDC: &OIDCConfig{Scopes: []string{"openid", "profile", "email"}},
		}, nil

	case "google":
		return &ProviderConfig{
			Key:    key,
			Family: FamilyOIDC,
			AttributeMapping: AttributeMap{
				UserID:      "sub",
				Email:       "email",
				FirstName:   "given_name",
				LastName:    "family_name",
				DisplayName: "name",
			},
			OIDC: &OIDCConfig{
				IssuerURL: "https://accounts.google.com",
				Scopes:    []string{"openid", "profile", "email"},
			},
		}, nil

	default:
		return nil, fmt.Errorf("no preset configuration for provider: %s", key)
	}
}
