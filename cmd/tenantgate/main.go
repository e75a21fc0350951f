package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/entitlements"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/profile"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
	"github.com/platinummonkey/tenantgate/pkg/session"
	"github.com/platinummonkey/tenantgate/pkg/sso"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

var version = "dev"

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Apply database migrations and exit")
	flag.Parse()

	if err := run(*migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "tenantgate: %v\n", err)
		os.Exit(1)
	}
}

func run(migrateOnly bool) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)
	ctx := context.Background()

	conns, err := postgres.NewConnectionManager(cfg.Database, logger)
	if err != nil {
		return err
	}

	if cfg.Database.AutoMigrate || migrateOnly {
		if err := postgres.Migrate(ctx, conns.Primary(), logger); err != nil {
			conns.Close()
			return err
		}
		if migrateOnly {
			logger.Info("migrations applied")
			return conns.Close()
		}
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
	}

	registry := entitlements.DefaultRegistry()
	if cfg.Entitlements.RegistryFile != "" {
		registry, err = entitlements.LoadRegistryFile(cfg.Entitlements.RegistryFile)
		if err != nil {
			return err
		}
	}

	provider, err := sso.NewOIDCProvider(ctx, &sso.OIDCConfig{
		IssuerURL:       cfg.Identity.IssuerURL,
		ClientID:        cfg.Identity.ClientID,
		ClientSecret:    cfg.Identity.ClientSecret,
		Scopes:          cfg.Identity.Scopes,
		VerifyMode:      cfg.Identity.VerifyMode,
		SkipIssuerCheck: cfg.Identity.SkipIssuerCheck,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	db := conns.Primary()

	var auditLogger audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		sink, err := audit.NewDBLogger(db)
		if err != nil {
			return err
		}
		auditLogger = audit.NewAsyncLogger(sink, cfg.Audit.BufferSize, logger.WithField("component", "audit"))
	}

	profiles := profile.NewStore(db)
	sessions := session.NewResolver(provider,
		session.NewCookieManager(cfg.Session.Production, cfg.Session.CookieDomain),
		logger, session.WithMetrics(metrics))
	evaluator := entitlements.NewEvaluator(db, registry, logger, metrics)
	plans := entitlements.NewMiddleware(evaluator, profiles, logger, metrics).WithAudit(auditLogger)

	var opts []middleware.ComposerOption
	if cfg.RateLimit.Enabled {
		limiter, err := newLimiter(cfg, cfg.RateLimit.RequestsPerWindow, redisClient)
		if err != nil {
			return err
		}
		opts = append(opts, middleware.WithRateLimit(middleware.NewRateLimitMiddleware(limiter, logger, metrics)))

		if cfg.RateLimit.ClientRequestsPerWindow > 0 {
			clientLimiter, err := newLimiter(cfg, cfg.RateLimit.ClientRequestsPerWindow, redisClient)
			if err != nil {
				return err
			}
			opts = append(opts, middleware.WithClientRateLimit(
				middleware.NewClientIPRateLimitMiddleware(clientLimiter, cfg.RateLimit.TrustProxy, logger, metrics)))
		}
	}

	composer := middleware.NewComposer(
		sessions,
		profile.NewResolver(profiles, logger, metrics),
		rbac.NewPermissionMiddleware(rbac.NewPermissionChecker(db), profiles, logger, metrics).WithAudit(auditLogger),
		plans,
		opts...,
	)

	router := mux.NewRouter()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics, routeTemplate))
	}
	registerRoutes(router, composer, routeHandlers{
		me:       profile.MeHandler,
		decision: plans.DecisionHandler,
		logout:   sessions.LogoutHandler,
		roles:    rbac.NewHandlers(rbac.NewStore(db).WithReader(conns.Replica()), logger).WithAudit(auditLogger),
	})

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.AllowedOrigins),
		httputil.MaxBytesMiddleware(1<<20),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "tenantgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	health := observability.NewHealthChecker(db, redisClient, version)
	if len(cfg.Database.ReplicaURLs) > 0 {
		health.AddProbe(observability.Probe{Name: "replicas", Check: func(ctx context.Context) error {
			if conns.ReplicaCount() == 0 {
				return errors.New("no healthy replicas, role listings served by primary")
			}
			return nil
		}})
	}
	observability.RegisterHealthRoutes(healthRouter, health)
	healthRouter.Handle("/metrics", observability.MetricsHandler(promRegistry))
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler := cron.New()
	if cfg.Database.MaintenanceSchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Database.MaintenanceSchedule, func() {
			conns.Maintain(context.Background(), metrics)
		}); err != nil {
			return fmt.Errorf("failed to schedule database maintenance: %w", err)
		}
	}
	scheduler.Start()

	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).WithField("addr", srv.Addr).Error("server stopped")
			}
		}(srv)
	}

	closers := []observability.Closer{
		{Name: "health server", Close: healthServer.Shutdown},
		{Name: "database", Close: func(ctx context.Context) error {
			// maintenance jobs and pending audit events both need the pool
			select {
			case <-scheduler.Stop().Done():
			case <-ctx.Done():
			}
			if err := auditLogger.Close(); err != nil {
				logger.WithError(err).Warn("failed to flush audit events")
			}
			return conns.Close()
		}},
		{Name: "telemetry", Close: func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		}},
	}
	if redisClient != nil {
		closers = append(closers, observability.Closer{Name: "redis", Close: func(ctx context.Context) error {
			return redisClient.Close()
		}})
	}

	return observability.GracefulShutdown(logger, server, cfg.Server.ShutdownTimeout, closers...)
}

// newLimiter picks the rate limit backend. Identity and client keys carry
// distinct prefixes, so both limiters can share one Redis keyspace.
func newLimiter(cfg *config.Config, perWindow int, redisClient *redis.Client) (middleware.Limiter, error) {
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: perWindow,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         cfg.RateLimit.BurstSize,
		MaxBuckets:        cfg.RateLimit.MaxBuckets,
	}
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis {
		if redisClient == nil {
			return nil, fmt.Errorf("redis rate limit backend requires a redis connection")
		}
		return middleware.NewDistributedRateLimiter(redisClient, limits, ""), nil
	}
	limiter, err := middleware.NewRateLimiter(limits)
	if err != nil {
		return nil, err
	}
	return limiter, nil
}
