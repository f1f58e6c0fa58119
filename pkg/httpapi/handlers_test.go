package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/pkg/accounts"
	"github.com/keygate/keygate/pkg/orchestrator"
	"github.com/keygate/keygate/pkg/sessiontoken"
	"github.com/keygate/keygate/pkg/sso"
	"github.com/keygate/keygate/pkg/state"
)

// fakeIdP is a minimal OAuth2 provider backend for handler tests.
type fakeIdP struct {
	srv *httptest.Server
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	f := &fakeIdP{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-123",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "ext-1",
			"email": "jo@corp.example",
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) config(key string, enabled bool) *sso.ProviderConfig {
	return &sso.ProviderConfig{
		Key:     key,
		Family:  sso.FamilyOAuth2,
		Enabled: enabled,
		OAuth2: &sso.OAuth2Config{
			ClientID:     "client-id",
			ClientSecret: "topsecret",
			AuthURL:      f.srv.URL + "/authorize",
			TokenURL:     f.srv.URL + "/token",
			UserinfoURL:  f.srv.URL + "/userinfo",
			RedirectURL:  "https://app.example.com/auth/sso/" + key + "/callback",
			Scopes:       []string{"read:user"},
		},
		AttributeMapping: sso.AttributeMap{UserID: "id", Email: "email"},
	}
}

func samlConfig(t *testing.T) *sso.ProviderConfig {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	return &sso.ProviderConfig{
		Key:     "corp-saml",
		Family:  sso.FamilySAML,
		Enabled: true,
		SAML: &sso.SAMLConfig{
			EntityID:             "https://idp.example.com/saml",
			SSOURL:               "https://idp.example.com/saml/sso",
			Certificate:          cert,
			SPEntityID:           "https://app.example.com/saml",
			AssertionConsumerURL: "https://app.example.com/auth/sso/corp-saml/callback",
		},
		AttributeMapping: sso.AttributeMap{UserID: "employeeId", Email: "mail"},
	}
}

func newTestRouter(t *testing.T, configs ...*sso.ProviderConfig) *mux.Router {
	t.Helper()

	registry, err := sso.NewRegistry(context.Background(), sso.RegistryOptions{SAMLEnabled: true}, configs...)
	require.NoError(t, err)

	states := state.NewMemoryStore(10 * time.Minute)
	resolver := accounts.NewResolver(accounts.NewMemoryStore(), accounts.Policy{AutoProvision: true, DefaultRole: "member"})
	tokens, err := sessiontoken.NewIssuer(sessiontoken.StaticKey("0123456789abcdef0123456789abcdef"), "keygate", time.Hour)
	require.NoError(t, err)

	orch := orchestrator.New(registry, states, resolver, tokens, nil, nil)

	router := mux.NewRouter()
	router.Use(RequestContextMiddleware(nil))
	NewHandlers(orch, registry, configs, nil).RegisterRoutes(router)
	return router
}

func doRequest(router *mux.Router, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInitiateLogin(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	rec := doRequest(router, http.MethodGet, "/auth/sso/github/login?return_url=/dash", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", location.Path)
	assert.NotEmpty(t, location.Query().Get("state"))
	assert.Equal(t, "client-id", location.Query().Get("client_id"))
}

func TestInitiateLogin_UnknownProvider(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	rec := doRequest(router, http.MethodGet, "/auth/sso/nope/login", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(sso.KindProviderDisabled), body.Error)
}

func TestInitiateLogin_DisabledProviderLooksUnknown(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", false))

	rec := doRequest(router, http.MethodGet, "/auth/sso/github/login", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func beginLogin(t *testing.T, router *mux.Router, provider, query string) string {
	t.Helper()

	rec := doRequest(router, http.MethodGet, "/auth/sso/"+provider+"/login"+query, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return location.Query().Get("state")
}

func TestHandleCallback_JSON(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	stateToken := beginLogin(t, router, "github", "")
	rec := doRequest(router, http.MethodGet, "/auth/sso/github/callback?code=auth-code&state="+stateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Account      *accounts.Account `json:"account"`
		SessionToken string            `json:"session_token"`
		Outcome      string            `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.SessionToken)
	assert.Equal(t, "provisioned", body.Outcome)
	require.NotNil(t, body.Account)
	assert.Equal(t, "jo@corp.example", body.Account.Email)

	// Provider tokens never leave the process.
	assert.NotContains(t, rec.Body.String(), "access-123")
}

func TestHandleCallback_BrowserRedirect(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	stateToken := beginLogin(t, router, "github", "?return_url=/dash")
	rec := doRequest(router, http.MethodGet, "/auth/sso/github/callback?code=auth-code&state="+stateToken, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dash", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

func TestHandleCallback_InvalidState(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	rec := doRequest(router, http.MethodGet, "/auth/sso/github/callback?code=auth-code&state=forged", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(sso.KindInvalidState), body.Error)
}

func TestHandleCallback_SAMLPostBinding(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true), samlConfig(t))

	// The POST binding transports the state token as RelayState. A forged
	// one is rejected the same way as a forged OAuth2 state.
	form := url.Values{
		"SAMLResponse": {"bm90IHhtbA=="},
		"RelayState":   {"forged"},
	}
	rec := doRequest(router, http.MethodPost, "/auth/sso/corp-saml/callback", form)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(sso.KindInvalidState), body.Error)
}

func TestListProviders(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true), idp.config("gitlab", false))

	rec := doRequest(router, http.MethodGet, "/sso/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []providerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)

	assert.Equal(t, "github", summaries[0].Key)
	assert.True(t, summaries[0].Enabled)
	assert.Equal(t, "/auth/sso/github/login", summaries[0].LoginURL)

	assert.Equal(t, "gitlab", summaries[1].Key)
	assert.False(t, summaries[1].Enabled)
	assert.Empty(t, summaries[1].LoginURL)

	// The listing never leaks credentials or provider endpoints.
	assert.NotContains(t, rec.Body.String(), "topsecret")
	assert.NotContains(t, rec.Body.String(), "client-id")
}

func TestGetSAMLMetadata(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true), samlConfig(t))

	rec := doRequest(router, http.MethodGet, "/sso/metadata/corp-saml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/samlmetadata+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "https://app.example.com/saml")
}

func TestGetSAMLMetadata_NonSAMLProvider(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	rec := doRequest(router, http.MethodGet, "/sso/metadata/github", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestContextMiddleware(t *testing.T) {
	idp := newFakeIdP(t)
	router := newTestRouter(t, idp.config("github", true))

	t.Run("assigns a request id", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/sso/providers", nil)
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	})

	t.Run("echoes a caller-supplied id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sso/providers", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})
}
