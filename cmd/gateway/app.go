package main

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/gateway"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// application holds all application components.
type application struct {
	gateway *gateway.Gateway
	metrics *observability.Metrics
	tracer  *observability.Tracer
	config  *config.GatewayConfig
}

// initApplication initializes all application components.
func initApplication(cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics(cfg.Spec.Observability.Metrics.Namespace)

	tracer, err := initTracer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	gw, err := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
		gateway.WithMetrics(metrics),
		gateway.WithTracerProvider(tracer.TracerProvider()),
	)
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return nil, err
	}

	return &application{
		gateway: gw,
		metrics: metrics,
		tracer:  tracer,
		config:  cfg,
	}, nil
}

// initTracer initializes the tracer from the tracing section.
func initTracer(cfg *config.GatewayConfig) (*observability.Tracer, error) {
	t := cfg.Spec.Observability.Tracing
	return observability.NewTracer(context.Background(), observability.TracerConfig{
		ServiceName:  t.ServiceName,
		OTLPEndpoint: t.OTLPEndpoint,
		SamplingRate: t.SamplingRate,
		Enabled:      t.Enabled,
	})
}
