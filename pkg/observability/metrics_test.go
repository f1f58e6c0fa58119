package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	// A second registration on the same registry must panic, proving the
	// first one actually registered the collectors.
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_LoginFlowCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.LoginRedirectsTotal.WithLabelValues("okta", "oidc").Inc()
	m.LoginAttemptsTotal.WithLabelValues("okta", "oidc", "success").Inc()
	m.StateTokensIssued.Inc()
	m.StateTokensConsumed.Inc()
	m.AccountsProvisioned.WithLabelValues("okta").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginRedirectsTotal.WithLabelValues("okta", "oidc")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("okta", "oidc", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StateTokensIssued))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AccountsProvisioned.WithLabelValues("okta")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.StateTokensRejected))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, func(r *http.Request) string { return "/auth/sso/{provider}/login" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusFound)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/auth/sso/okta/login", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/auth/sso/{provider}/login", "302"))
	assert.Equal(t, float64(1), count)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.StateTokensIssued.Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "keygate_state_tokens_issued_total 1")
}
