package sso

import "time"

// ProviderFamily identifies the authentication protocol family an adapter
// implements. The set is closed: every provider configuration names exactly
// one family and the registry refuses anything else.
type ProviderFamily string

const (
	FamilyOAuth2 ProviderFamily = "oauth2"
	FamilyOIDC   ProviderFamily = "oidc"
	FamilySAML   ProviderFamily = "saml"
)

// ProviderConfig describes one configured identity provider. Exactly one of
// OAuth2, OIDC or SAML must be set, matching Family.
type ProviderConfig struct {
	// Key is the unique provider identifier used in login URLs and
	// provider links (e.g. "okta", "google", "corp-saml").
	Key     string         `json:"key" yaml:"key"`
	Family  ProviderFamily `json:"family" yaml:"family"`
	Enabled bool           `json:"enabled" yaml:"enabled"`

	OAuth2 *OAuth2Config `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	OIDC   *OIDCConfig   `json:"oidc,omitempty" yaml:"oidc,omitempty"`
	SAML   *SAMLConfig   `json:"saml,omitempty" yaml:"saml,omitempty"`

	// AttributeMapping maps provider claims or assertion attributes onto
	// the normalized identity fields.
	AttributeMapping AttributeMap `json:"attribute_mapping" yaml:"attribute_mapping"`
}

// OAuth2Config holds plain authorization-code OAuth2 configuration.
type OAuth2Config struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"-" yaml:"client_secret"` // Never expose secret in JSON
	AuthURL      string   `json:"auth_url" yaml:"auth_url"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	UserinfoURL  string   `json:"userinfo_url" yaml:"userinfo_url"`
	RedirectURL  string   `json:"redirect_url" yaml:"redirect_url"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
}

// OIDCConfig holds OpenID Connect configuration for the PKCE-augmented
// family. Endpoints are resolved through issuer discovery.
type OIDCConfig struct {
	IssuerURL    string   `json:"issuer_url" yaml:"issuer_url"`
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"-" yaml:"client_secret"` // Optional; PKCE carries the proof
	RedirectURL  string   `json:"redirect_url" yaml:"redirect_url"`
	Scopes       []string `json:"scopes" yaml:"scopes"`
}

// SAMLConfig holds SAML 2.0 configuration.
type SAMLConfig struct {
	// EntityID is the identity provider issuer.
	EntityID    string `json:"entity_id" yaml:"entity_id"`
	SSOURL      string `json:"sso_url" yaml:"sso_url"`
	Certificate string `json:"certificate" yaml:"certificate"` // PEM encoded IdP certificate
	// SPEntityID is this relying party's issuer value.
	SPEntityID string `json:"sp_entity_id" yaml:"sp_entity_id"`
	// AssertionConsumerURL is where the IdP posts assertions back.
	AssertionConsumerURL string `json:"assertion_consumer_url" yaml:"assertion_consumer_url"`
	AudienceURI          string `json:"audience_uri" yaml:"audience_uri"`
	// NameIDFormat overrides the requested NameID format when set.
	NameIDFormat string `json:"name_id_format,omitempty" yaml:"name_id_format,omitempty"`
}

// AttributeMap defines how provider claims map to identity fields. Values
// are claim names (OAuth2/OIDC) or assertion attribute names (SAML).
type AttributeMap struct {
	UserID      string `json:"user_id" yaml:"user_id"`
	Email       string `json:"email" yaml:"email"`
	FirstName   string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Role        string `json:"role,omitempty" yaml:"role,omitempty"`
}

// ExternalIdentity is the normalized result of a provider callback. It is
// transient: adapters produce it, the resolver consumes it, nothing
// persists it as-is.
type ExternalIdentity struct {
	Provider       string            `json:"provider"`
	ProviderUserID string            `json:"provider_user_id"`
	Email          string            `json:"email,omitempty"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	DisplayName    string            `json:"display_name,omitempty"`
	RoleHint       string            `json:"role_hint,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CallbackPayload carries the raw provider callback parameters into
// ResolveCallback. OAuth2 families use Code/State; SAML uses
// SAMLResponse/RelayState.
type CallbackPayload struct {
	Code         string
	State        string
	SAMLResponse string
	RelayState   string
}

// StateToken returns the anti-forgery token for this payload regardless of
// family (SAML transports it as RelayState).
func (p CallbackPayload) StateToken() string {
	if p.State != "" {
		return p.State
	}
	return p.RelayState
}

// CallbackResult is what an adapter yields on a successful callback:
// the normalized identity plus the provider-issued tokens. Provider tokens
// are handed back to the caller verbatim and are never embedded in the
// local session token.
type CallbackResult struct {
	Identity       *ExternalIdentity
	ProviderTokens map[string]string
	// ExpiresAt is the provider access-token expiry when known.
	ExpiresAt time.Time
}

// Provider token map keys.
const (
	TokenAccess  = "access_token"
	TokenRefresh = "refresh_token"
	TokenID      = "id_token"
)
