// Package telemetry provides OpenTelemetry metrics integration.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
// # Configuration
//
//	STAGEHAND_OTEL_ENABLED=true   enable metrics (default: off)
//	OTEL_SERVICE_NAME=stagehand   override service name
//
// When enabled, metrics are written to stderr through the stdout exporter;
// this is aimed at operators tailing worker-loop logs, not at a collector.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var shutdownFn func(context.Context) error

// Enabled reports whether telemetry is active (STAGEHAND_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("STAGEHAND_OTEL_ENABLED") == "true"
}

// Init configures the OTel meter provider. When telemetry is disabled this
// installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("building telemetry resource: %w", err)
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("creating stdout metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(provider)
	shutdownFn = provider.Shutdown
	return nil
}

// Shutdown flushes and stops the meter provider, if one was installed.
func Shutdown(ctx context.Context) error {
	if shutdownFn == nil {
		return nil
	}
	return shutdownFn(ctx)
}

// Meter returns a meter for the given instrumentation scope.
func Meter(scope string) metric.Meter {
	return otel.Meter(scope)
}
