// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for the billing service.
//
// # Logging
//
// Loggers are logrus instances; components take a logrus.FieldLogger:
//
//	logger, err := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("org_id", id).Info("organization registered")
//
// Request-scoped loggers carry the request id:
//
//	observability.FromContext(r.Context()).Warn("quantity sync failed")
//
// # Metrics
//
// Metrics implements the recorder interfaces of the billing gateway and the
// subscription synchronizer:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	client := billing.NewClient(cfg, logger, metrics)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(store, redisClient, version)
//	router.HandleFunc("/readyz", checker.Readiness)
package observability
