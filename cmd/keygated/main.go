package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/keygate/keygate/pkg/accounts"
	"github.com/keygate/keygate/pkg/config"
	"github.com/keygate/keygate/pkg/httpapi"
	"github.com/keygate/keygate/pkg/observability"
	"github.com/keygate/keygate/pkg/orchestrator"
	"github.com/keygate/keygate/pkg/sessiontoken"
	"github.com/keygate/keygate/pkg/sso"
	"github.com/keygate/keygate/pkg/state"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	startup := logrus.New()
	startup.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.WithError(err).Fatal("Failed to load configuration")
	}

	providersFile, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		startup.WithError(err).Fatal("Failed to load providers file")
	}
	startup.WithFields(logrus.Fields{
		"providers": len(providersFile.Providers),
		"saml":      providersFile.SAMLEnabled,
		"version":   version,
	}).Info("Configuration loaded")

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		startup.WithError(err).Fatal("Failed to open postgres")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		startup.WithError(err).Fatal("Failed to reach postgres")
	}
	cancel()
	startup.Info("Postgres connection established")

	var redisClient *redis.Client
	var states state.Store
	var memoryStates *state.MemoryStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			startup.WithError(err).Fatal("Failed to parse redis URL")
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		opts.DB = cfg.Redis.DB
		redisClient = redis.NewClient(opts)
		states = state.NewRedisStore(redisClient, cfg.State.TTL)
		startup.Info("Using redis state store")
	} else {
		memoryStates = state.NewMemoryStore(cfg.State.TTL)
		states = memoryStates
		startup.Warn("Using in-memory state store; run a single instance or configure KEYGATE_REDIS_URL")
	}

	registryCtx, cancelRegistry := context.WithTimeout(context.Background(), 30*time.Second)
	registry, err := sso.NewRegistry(registryCtx, sso.RegistryOptions{
		SAMLEnabled: providersFile.SAMLEnabled,
	}, providersFile.Providers...)
	cancelRegistry()
	if err != nil {
		startup.WithError(err).Fatal("Failed to build provider registry")
	}
	startup.WithField("keys", registry.Keys()).Info("Provider registry ready")

	store := accounts.NewPostgresStore(db)
	resolver := accounts.NewResolver(store, providersFile.Policy)

	tokens, err := sessiontoken.NewIssuer(sessiontoken.StaticKey(cfg.Session.SigningKey), cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		startup.WithError(err).Fatal("Failed to create session token issuer")
	}

	registryProm := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registryProm)
	}

	orch := orchestrator.New(registry, states, resolver, tokens, logger, metrics)

	// API server
	router := mux.NewRouter()
	router.Use(httpapi.RequestContextMiddleware(logger))
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics, httpapi.RoutePathLabel))
	}
	handlers := httpapi.NewHandlers(orch, registry, providersFile.Providers, logger)
	handlers.RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics server on a separate port for probes
	healthMux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient)
	checker.SetVersion(version)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registryProm)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Periodic sweep keeps the in-memory store bounded; redis expires on
	// its own.
	sweeper := cron.New()
	if memoryStates != nil {
		_, err := sweeper.AddFunc(cfg.State.SweepSchedule, func() {
			defer observability.RecoverPanic(logger, "state sweep")
			removed := memoryStates.Sweep()
			if metrics != nil {
				metrics.StateTokensSwept.Add(float64(removed))
				metrics.StateEntriesLive.Set(float64(memoryStates.Len()))
			}
			if removed > 0 {
				logger.WithField("removed", removed).Debug("state sweep completed")
			}
		})
		if err != nil {
			startup.WithError(err).Fatal("Failed to schedule state sweep")
		}
		sweeper.Start()
	}

	if metrics != nil {
		_, err := sweeper.AddFunc("@every 15s", func() {
			defer observability.RecoverPanic(logger, "db stats collection")
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		})
		if err != nil {
			startup.WithError(err).Fatal("Failed to schedule db stats collection")
		}
		sweeper.Start()
	}

	g := &errgroup.Group{}
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	sm := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	sm.Register("health server", healthServer.Shutdown)
	sm.Register("sweeper", func(ctx context.Context) error {
		stopCtx := sweeper.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	sm.Register("postgres", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		sm.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
	}
	if err := g.Wait(); err != nil {
		startup.WithError(err).Fatal("Server failed")
	}
}
