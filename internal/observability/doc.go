// Package observability provides logging, metrics, and tracing
// functionality for the API Gateway.
//
// Structured logging goes through the Logger interface backed by zap.
// Metrics use a private Prometheus registry exposed on /metrics; the
// Metrics type also implements the pipeline's stage recorder so every
// stage outcome and timing lands in the same registry. Tracing wraps
// the OpenTelemetry SDK with an optional OTLP gRPC exporter.
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	metrics := observability.NewMetrics("gateway")
//	http.Handle("/metrics", metrics.Handler())
package observability
