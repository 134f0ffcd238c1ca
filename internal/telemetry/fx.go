package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

func registerHooks(lc fx.Lifecycle, provider *sdktrace.TracerProvider) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return provider.Shutdown(ctx)
		},
	})
}

// Module wires tracing and metrics.
var Module = fx.Module("telemetry",
	fx.Provide(
		NewRegistry,
		NewMetrics,
		NewTracerProvider,
	),
	fx.Invoke(registerHooks),
)
