// Package telemetry wires OpenTelemetry trace export.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"smart-router/internal/config"
)

const serviceName = "smart-router"

// Shutdown flushes and stops trace export.
type Shutdown func(context.Context) error

// Setup installs a global tracer provider exporting to cfg.Endpoint over
// OTLP/HTTP. When telemetry is disabled the default no-op provider stays in
// place and the returned Shutdown does nothing.
func Setup(ctx context.Context, cfg config.TelemetryConfig, version string) (Shutdown, error) {
	if !cfg.Enabled() {
		return func(context.Context) error { return nil }, nil
	}

	opts, err := exporterOptions(cfg)
	if err != nil {
		return nil, err
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)

	log.Info().Str("endpoint", cfg.Endpoint).Msg("trace export enabled")
	return tp.Shutdown, nil
}

const tracesPath = "/v1/traces"

// exporterOptions accepts either a bare host:port or a collector base URL
// such as http://collector:4318, the form OTEL_EXPORTER_OTLP_ENDPOINT uses.
func exporterOptions(cfg config.TelemetryConfig) ([]otlptracehttp.Option, error) {
	endpoint := cfg.Endpoint
	insecure := cfg.Insecure
	var opts []otlptracehttp.Option

	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("telemetry endpoint %q: %w", endpoint, err)
		}
		switch u.Scheme {
		case "http":
			insecure = true
		case "https":
		default:
			return nil, fmt.Errorf("telemetry endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("telemetry endpoint %q: missing host", endpoint)
		}
		endpoint = u.Host
		if base := strings.TrimSuffix(u.Path, "/"); base != "" {
			opts = append(opts, otlptracehttp.WithURLPath(strings.TrimSuffix(base, tracesPath)+tracesPath))
		}
	}

	opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts, nil
}
