package sso

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oauth2TestConfig(key string) *ProviderConfig {
	return &ProviderConfig{
		Key:     key,
		Family:  FamilyOAuth2,
		Enabled: true,
		OAuth2: &OAuth2Config{
			ClientID:     "client",
			ClientSecret: "secret",
			AuthURL:      "https://idp.example.com/authorize",
			TokenURL:     "https://idp.example.com/token",
			UserinfoURL:  "https://idp.example.com/userinfo",
			RedirectURL:  "https://app.example.com/auth/sso/" + key + "/callback",
			Scopes:       []string{"profile", "email"},
		},
		AttributeMapping: AttributeMap{UserID: "id", Email: "email"},
	}
}

func TestNewRegistry_GetEnabled(t *testing.T) {
	registry, err := NewRegistry(context.Background(), RegistryOptions{}, oauth2TestConfig("github"))
	require.NoError(t, err)

	p, err := registry.Get("github")
	require.NoError(t, err)
	assert.Equal(t, "github", p.Key())
	assert.Equal(t, FamilyOAuth2, p.Family())
	assert.False(t, p.RequiresPKCE())
}

func TestNewRegistry_UnknownAndDisabledIndistinguishable(t *testing.T) {
	disabled := oauth2TestConfig("legacy")
	disabled.Enabled = false

	registry, err := NewRegistry(context.Background(), RegistryOptions{}, disabled)
	require.NoError(t, err)

	_, errDisabled := registry.Get("legacy")
	_, errUnknown := registry.Get("never-configured")

	require.Error(t, errDisabled)
	require.Error(t, errUnknown)
	assert.Equal(t, KindProviderDisabled, KindOf(errDisabled))
	assert.Equal(t, KindProviderDisabled, KindOf(errUnknown))
}

func TestNewRegistry_DuplicateKey(t *testing.T) {
	_, err := NewRegistry(context.Background(), RegistryOptions{},
		oauth2TestConfig("github"), oauth2TestConfig("github"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate provider key")
}

func TestNewRegistry_MissingKey(t *testing.T) {
	cfg := oauth2TestConfig("")
	_, err := NewRegistry(context.Background(), RegistryOptions{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key is required")
}

func TestNewRegistry_MisconfiguredEnabledProviderFails(t *testing.T) {
	cfg := oauth2TestConfig("github")
	cfg.OAuth2.ClientSecret = ""

	_, err := NewRegistry(context.Background(), RegistryOptions{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider github")
	assert.Contains(t, err.Error(), "client_secret is required")
}

func TestNewRegistry_MisconfiguredDisabledProviderIgnored(t *testing.T) {
	cfg := oauth2TestConfig("broken")
	cfg.Enabled = false
	cfg.OAuth2 = nil

	registry, err := NewRegistry(context.Background(), RegistryOptions{}, cfg)
	require.NoError(t, err)
	assert.Empty(t, registry.Keys())
}

func TestNewRegistry_UnsupportedFamily(t *testing.T) {
	cfg := oauth2TestConfig("weird")
	cfg.Family = ProviderFamily("ldap")

	_, err := NewRegistry(context.Background(), RegistryOptions{}, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider family")
}

func TestRegistry_Keys(t *testing.T) {
	disabled := oauth2TestConfig("legacy")
	disabled.Enabled = false

	registry, err := NewRegistry(context.Background(), RegistryOptions{},
		oauth2TestConfig("github"), oauth2TestConfig("gitlab"), disabled)
	require.NoError(t, err)

	keys := registry.Keys()
	assert.ElementsMatch(t, []string{"github", "gitlab"}, keys)
}

func TestPresetConfig_Okta(t *testing.T) {
	cfg, err := PresetConfig("okta")
	require.NoError(t, err)
	assert.Equal(t, FamilyOIDC, cfg.Family)
	assert.Equal(t, "sub", cfg.AttributeMapping.UserID)
	assert.Contains(t, cfg.OIDC.Scopes, "openid")
}

func TestPresetConfig_AzureAD(t *testing.T) {
	cfg, err := PresetConfig("azuread")
	require.NoError(t, err)
	assert.Equal(t, "oid", cfg.AttributeMapping.UserID)
	assert.Equal(t, "given_name", cfg.AttributeMapping.FirstName)
}

func TestPresetConfig_Google(t *testing.T) {
	cfg, err := PresetConfig("google")
	require.NoError(t, err)
	assert.Equal(t, "https://accounts.google.com", cfg.OIDC.IssuerURL)
}

func TestPresetConfig_Unknown(t *testing.T) {
	_, err := PresetConfig("homegrown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no preset configuration")
}
