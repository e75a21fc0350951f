// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithTenant(tenantID).Warn("entitlement lookup failed, allowing request")
//
// FromContext returns the request logger with request_id, user_id (the
// verified identity subject) and trace ids attached. Token, cookie and
// authorization fields are redacted by the handler.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordDecision(observability.StagePermission, observability.OutcomeDeny)
//	metrics.RecordFailOpen("entitlements")
//
// Record* helpers are nil-safe so components can run without metrics in tests.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//	ctx, span := observability.StartSpan(ctx, "session.resolve")
//	defer span.End()
//
// Denials tag the stage span with the error code via MarkDenied.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddProbe(observability.Probe{Name: "replicas", Check: checkReplicas})
//	observability.RegisterHealthRoutes(router, checker)
//
// # Shutdown
//
//	return observability.GracefulShutdown(logger, server, 30*time.Second,
//		observability.Closer{Name: "database", Close: closeDB})
package observability
