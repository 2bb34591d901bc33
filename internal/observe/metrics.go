// Package observe holds voxscribe's telemetry: OpenTelemetry metrics and
// traces, correlation-aware logging and the HTTP middleware that ties them
// together.
//
// Metrics go through the OpenTelemetry API and are exported to Prometheus by
// [InitProvider]. Tests build their own instruments with [NewMetrics] rather
// than sharing [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxscribe"

// Metrics holds the application's instruments. Durations are in seconds.
type Metrics struct {
	ConversionDuration  metric.Float64Histogram
	STTDuration         metric.Float64Histogram // provider
	LLMDuration         metric.Float64Histogram // task: cleanup, faq, correction
	AudioSeconds        metric.Float64Counter
	ProviderRequests    metric.Int64Counter // provider, kind, status
	ProviderErrors      metric.Int64Counter // provider, kind
	ActiveStreams       metric.Int64UpDownCounter
	HTTPRequestDuration metric.Float64Histogram // method, path, status
}

// latencyBuckets stretch to a minute: a long recording or a 70B model is
// much slower than an HTTP round trip.
var latencyBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// instruments creates instruments on one meter and collects the errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		ConversionDuration:  b.latency("voxscribe.conversion.duration", "Latency of audio container conversion."),
		STTDuration:         b.latency("voxscribe.stt.duration", "Latency of speech-to-text per recording."),
		LLMDuration:         b.latency("voxscribe.llm.duration", "Latency of LLM requests by task."),
		HTTPRequestDuration: b.latency("voxscribe.http.request.duration", "HTTP request latency by method and route."),
		ProviderRequests:    b.counter("voxscribe.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:      b.counter("voxscribe.provider.errors", "Provider failures by provider and kind."),
	}

	var err error
	m.AudioSeconds, err = b.meter.Float64Counter("voxscribe.audio.seconds",
		metric.WithDescription("Seconds of audio transcribed."), metric.WithUnit("s"))
	b.errs = append(b.errs, err)
	m.ActiveStreams, err = b.meter.Int64UpDownCounter("voxscribe.active_streams",
		metric.WithDescription("Live websocket transcription streams."))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultMetrics returns instruments on the global meter provider. Create
// them after [InitProvider] so they reach the Prometheus exporter.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordSTT records a finished recording transcription. Audio seconds only
// count when it succeeded.
func (m *Metrics) RecordSTT(ctx context.Context, provider string, took, audio time.Duration, err error) {
	m.STTDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	m.record(ctx, provider, "stt", err)
	if err == nil {
		m.AudioSeconds.Add(ctx, audio.Seconds())
	}
}

// RecordLLM records one LLM request made for task.
func (m *Metrics) RecordLLM(ctx context.Context, task string, took time.Duration, err error) {
	m.LLMDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("task", task)))
	m.record(ctx, "llm", task, err)
}

func (m *Metrics) record(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}
