// Package observability provides structured logging, Prometheus metrics, health checks,
// graceful shutdown, and OpenTelemetry tracing for the audit trail binaries.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("category", "DATABASE").Info("audit record written")
//
// Request scoped logging picks up the request ID, principal and active span:
//
//	logger.For(ctx).Warn("exception audit failed")
//
// # Prometheus Metrics
//
// Metrics implements the audit service instrumentation port:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	svc := audit.NewService(store, cfg, audit.WithInstrumentation(metrics))
//
// HTTP request metrics are labelled with the mux route template:
//
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(map[string]*sql.DB{"audit": db}, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// # OpenTelemetry
//
//	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "auditd",
//		StorageType: "postgres",
//		Insecure:    true,
//	}, logger)
//	defer telemetry.Shutdown(ctx)
package observability
