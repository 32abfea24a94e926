// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal_id", id).Info("role granted")
//
// Metrics are nil-safe, so packages accept a *Metrics and callers may pass nil:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordGuardDecision("redirect", "any_of_roles")
//
// Tracing:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
