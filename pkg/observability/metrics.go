package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login flow metrics
	LoginRedirectsTotal *prometheus.CounterVec
	LoginAttemptsTotal  *prometheus.CounterVec
	ExchangeDuration    *prometheus.HistogramVec
	ResolveDuration     *prometheus.HistogramVec
	SessionTokensIssued *prometheus.CounterVec

	// State store metrics
	StateTokensIssued   prometheus.Counter
	StateTokensConsumed prometheus.Counter
	StateTokensRejected prometheus.Counter
	StateTokensSwept    prometheus.Counter
	StateEntriesLive    prometheus.Gauge

	// Account metrics
	AccountsProvisioned *prometheus.CounterVec
	LinksAttached       *prometheus.CounterVec

	// Dependency metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keygate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginRedirectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_login_redirects_total",
				Help: "Total number of login redirects issued",
			},
			[]string{"provider", "family"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_login_attempts_total",
				Help: "Total number of completed login callbacks by outcome",
			},
			[]string{"provider", "family", "outcome"},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keygate_provider_exchange_duration_seconds",
				Help:    "Duration of provider credential exchanges",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keygate_identity_resolve_duration_seconds",
				Help:    "Duration of identity-to-account resolution",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"provider"},
		),
		SessionTokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_session_tokens_issued_total",
				Help: "Total number of session tokens issued",
			},
			[]string{"provider"},
		),

		StateTokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keygate_state_tokens_issued_total",
				Help: "Total number of anti-forgery state tokens issued",
			},
		),
		StateTokensConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keygate_state_tokens_consumed_total",
				Help: "Total number of state tokens consumed by a valid callback",
			},
		),
		StateTokensRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keygate_state_tokens_rejected_total",
				Help: "Total number of callbacks rejected for a missing, expired or replayed state token",
			},
		),
		StateTokensSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "keygate_state_tokens_swept_total",
				Help: "Total number of expired state tokens removed by the sweeper",
			},
		),
		StateEntriesLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keygate_state_entries_live",
				Help: "Number of outstanding state tokens",
			},
		),

		AccountsProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_accounts_provisioned_total",
				Help: "Total number of accounts auto-provisioned from SSO",
			},
			[]string{"provider"},
		),
		LinksAttached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keygate_provider_links_attached_total",
				Help: "Total number of provider links attached to existing accounts",
			},
			[]string{"provider"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keygate_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "keygate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginRedirectsTotal,
		m.LoginAttemptsTotal,
		m.ExchangeDuration,
		m.ResolveDuration,
		m.SessionTokensIssued,
		m.StateTokensIssued,
		m.StateTokensConsumed,
		m.StateTokensRejected,
		m.StateTokensSwept,
		m.StateEntriesLive,
		m.AccountsProvisioned,
		m.LinksAttached,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to the route template so per-user URLs do not
// explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
