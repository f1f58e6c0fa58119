// Package observability provides structured logging, Prometheus metrics,
// health checks and graceful shutdown for the keygate daemon.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("provider", "okta").Info("login redirect issued")
//
// Loggers travel through request contexts; FromContext recovers the
// logger together with the request ID and provider fields the middleware
// attached.
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginAttemptsTotal.WithLabelValues("okta", "oidc", "success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # Graceful Shutdown
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.Register("postgres", func(ctx context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown()
package observability
