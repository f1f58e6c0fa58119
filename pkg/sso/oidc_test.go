package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeIssuer serves the OIDC discovery document for issuer URL
// discovery during adapter construction.
func newFakeIssuer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"keys": []interface{}{}})
	})

	return srv
}

func oidcTestConfig(issuerURL string) *ProviderConfig {
	return &ProviderConfig{
		Key:     "okta",
		Family:  FamilyOIDC,
		Enabled: true,
		OIDC: &OIDCConfig{
			IssuerURL:    issuerURL,
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "https://app.example.com/auth/sso/okta/callback",
			Scopes:       []string{"openid", "profile", "email"},
		},
		AttributeMapping: AttributeMap{UserID: "sub", Email: "email"},
	}
}

func TestNewOIDCProvider_Discovery(t *testing.T) {
	issuer := newFakeIssuer(t)

	p, err := NewOIDCProvider(context.Background(), oidcTestConfig(issuer.URL), RegistryOptions{HTTPClient: issuer.Client()})
	require.NoError(t, err)

	assert.Equal(t, "okta", p.Key())
	assert.Equal(t, FamilyOIDC, p.Family())
	assert.True(t, p.RequiresPKCE())
}

func TestOIDCProvider_LoginRedirect(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, err := NewOIDCProvider(context.Background(), oidcTestConfig(issuer.URL), RegistryOptions{HTTPClient: issuer.Client()})
	require.NoError(t, err)

	redirect, err := p.LoginRedirect("state-1", "challenge-abc")
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "challenge-abc", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestOIDCProvider_LoginRedirect_RequiresChallenge(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, err := NewOIDCProvider(context.Background(), oidcTestConfig(issuer.URL), RegistryOptions{HTTPClient: issuer.Client()})
	require.NoError(t, err)

	_, err = p.LoginRedirect("state-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pkce challenge is required")
}

func TestOIDCProvider_ResolveCallback_MissingInputs(t *testing.T) {
	issuer := newFakeIssuer(t)
	p, err := NewOIDCProvider(context.Background(), oidcTestConfig(issuer.URL), RegistryOptions{HTTPClient: issuer.Client()})
	require.NoError(t, err)

	_, err = p.ResolveCallback(context.Background(), CallbackPayload{State: "s"}, "verifier")
	require.Error(t, err)
	assert.Equal(t, KindProviderExchangeFailed, KindOf(err))

	_, err = p.ResolveCallback(context.Background(), CallbackPayload{Code: "c", State: "s"}, "")
	require.Error(t, err)
	assert.Equal(t, KindProviderExchangeFailed, KindOf(err))
}

func TestNewOIDCProvider_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OIDCConfig)
		errMsg string
	}{
		{"missing issuer", func(c *OIDCConfig) { c.IssuerURL = "" }, "issuer_url is required"},
		{"missing client id", func(c *OIDCConfig) { c.ClientID = "" }, "client_id is required"},
		{"missing redirect url", func(c *OIDCConfig) { c.RedirectURL = "" }, "redirect_url is required"},
		{"missing scopes", func(c *OIDCConfig) { c.Scopes = nil }, "scopes are required"},
		{"missing openid scope", func(c *OIDCConfig) { c.Scopes = []string{"profile"} }, `"openid" scope is required`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := oidcTestConfig("https://idp.example.com")
			tt.mutate(cfg.OIDC)

			_, err := NewOIDCProvider(context.Background(), cfg, RegistryOptions{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewOIDCProvider_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOIDCProvider(context.Background(), oidcTestConfig(srv.URL), RegistryOptions{HTTPClient: srv.Client()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issuer discovery failed")
}
