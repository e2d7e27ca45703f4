package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/54b3r/docchat-go/internal/version"
)

// defaultOTLPEndpoint is the local collector address (OTLP over HTTP).
const defaultOTLPEndpoint = "localhost:4318"

// serviceName is reported as service.name on every span.
const serviceName = "docchat"

// OTelConfig enables and addresses the OTLP trace exporter.
type OTelConfig struct {
	// Enabled turns export on. When false InitTracer is a no-op.
	Enabled bool
	// Endpoint is the collector as host:port, sent over plain HTTP, or as a
	// full URL whose scheme is honoured. Empty selects localhost:4318.
	Endpoint string
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP and
// returns its shutdown function, which flushes pending spans. When tracing is
// disabled, or the exporter cannot be built, the returned shutdown is a no-op
// and the global no-op provider stays in place.
func InitTracer(ctx context.Context, cfg OTelConfig, log *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		log.Debug("tracing: opentelemetry disabled (set OTEL_ENABLED=true to enable)")
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOTLPEndpoint
	}

	exporter, err := otlptracehttp.New(ctx, exporterOptions(endpoint)...)
	if err != nil {
		return noop, fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Version),
		)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing: opentelemetry enabled", slog.String("endpoint", endpoint))
	return tp.Shutdown, nil
}

// exporterOptions addresses the collector at endpoint.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	if strings.Contains(endpoint, "://") {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	}
	return []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	}
}
