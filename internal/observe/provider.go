package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "voxscribe".
	ServiceName    string
	ServiceVersion string

	// Registry receives the exported metrics. Nil means the Prometheus
	// default registry, which [MetricsHandler] serves.
	Registry *prometheus.Registry

	// TraceExporter, when set, receives finished spans in batches. Without
	// it spans only feed trace IDs into logs and correlation headers.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs global OpenTelemetry meter and tracer providers for
// the service. The returned function flushes and stops both.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	var expOpts []promexporter.Option
	if cfg.Registry != nil {
		expOpts = append(expOpts, promexporter.WithRegisterer(cfg.Registry))
	}
	reader, err := promexporter.New(expOpts...)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first, so a batch exporter can still record its own metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func serviceResource(cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "voxscribe"
	}
	// Schemaless, so the merge keeps the schema URL of the SDK default and
	// cannot conflict with it.
	return resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
}

// MetricsHandler serves the Prometheus default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
