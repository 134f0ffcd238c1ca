package telemetry

import (
	"context"

	"github.com/smallbiznis/flowline/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// NewTracerProvider wires the OTLP gRPC exporter when enabled; otherwise a
// no-export provider so instrumentation stays cheap.
func NewTracerProvider(cfg config.Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	if !cfg.OTLPEnabled || cfg.OTLPEndpoint == "" {
		provider := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(provider)
		return provider, nil
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	log.Info("otel tracing enabled", zap.String("endpoint", cfg.OTLPEndpoint))
	return provider, nil
}
