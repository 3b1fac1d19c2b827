package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
)

// Outcome of a single platform call inside a fan-out.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Recorder receives engine metrics.
type Recorder interface {
	RecordScan(ctx context.Context, detections int, duration time.Duration)
	RecordPlatformCall(ctx context.Context, platformID, label string, outcome Outcome, duration time.Duration)
	RecordCacheRefresh(ctx context.Context, platformID, entityType string, success bool, entities int)
	Close() error
}

type telemetry struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider

	scanCounter      metric.Int64Counter
	detectionCounter metric.Int64Counter
	scanDuration     metric.Float64Histogram
	platformCalls    metric.Int64Counter
	platformDuration metric.Float64Histogram
	cacheRefreshes   metric.Int64Counter
	cachedEntities   metric.Int64Gauge
}

func New(ctx context.Context, cfg config.TelemetryConfig) (Recorder, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := newInstruments(otel.Meter(cfg.ServiceName))
	if err != nil {
		return nil, err
	}
	t.tracer = tp.Tracer(cfg.ServiceName)
	t.tracerProvider = tp

	return t, nil
}

func newInstruments(meter metric.Meter) (*telemetry, error) {
	t := &telemetry{meter: meter}
	var err error

	if t.scanCounter, err = meter.Int64Counter("spotter.scans.total",
		metric.WithDescription("Total number of text scans"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	if t.detectionCounter, err = meter.Int64Counter("spotter.detections.total",
		metric.WithDescription("Total number of observables detected"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	if t.scanDuration, err = meter.Float64Histogram("spotter.scan.duration",
		metric.WithDescription("Scan duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if t.platformCalls, err = meter.Int64Counter("spotter.platform.calls.total",
		metric.WithDescription("Platform calls by outcome"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	if t.platformDuration, err = meter.Float64Histogram("spotter.platform.call.duration",
		metric.WithDescription("Platform call duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if t.cacheRefreshes, err = meter.Int64Counter("spotter.cache.refreshes.total",
		metric.WithDescription("Entity cache refreshes by result"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	if t.cachedEntities, err = meter.Int64Gauge("spotter.cache.entities",
		metric.WithDescription("Entities held for a platform and entity type after the last refresh"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *telemetry) RecordScan(ctx context.Context, detections int, duration time.Duration) {
	t.scanCounter.Add(ctx, 1)
	t.detectionCounter.Add(ctx, int64(detections))
	t.scanDuration.Record(ctx, duration.Seconds())
}

func (t *telemetry) RecordPlatformCall(ctx context.Context, platformID, label string, outcome Outcome, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("platform.id", platformID),
		attribute.String("call.label", label),
		attribute.String("call.outcome", string(outcome)),
	)

	t.platformCalls.Add(ctx, 1, attrs)
	t.platformDuration.Record(ctx, duration.Seconds(), attrs)
}

func (t *telemetry) RecordCacheRefresh(ctx context.Context, platformID, entityType string, success bool, entities int) {
	attrs := []attribute.KeyValue{
		attribute.String("platform.id", platformID),
		attribute.String("entity.type", entityType),
	}

	t.cacheRefreshes.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("refresh.success", success))...))
	if success {
		t.cachedEntities.Record(ctx, int64(entities), metric.WithAttributes(attrs...))
	}
}

func (t *telemetry) Close() error {
	if t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

type noopTelemetry struct{}

// NewNoop returns a Recorder that drops everything.
func NewNoop() Recorder { return noopTelemetry{} }

func (noopTelemetry) RecordScan(context.Context, int, time.Duration)                             {}
func (noopTelemetry) RecordPlatformCall(context.Context, string, string, Outcome, time.Duration) {}
func (noopTelemetry) RecordCacheRefresh(context.Context, string, string, bool, int)              {}
func (noopTelemetry) Close() error                                                               { return nil }

type contextKey struct{}

// WithRecorder attaches r to ctx.
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// FromContext returns the Recorder attached to ctx, or a no-op Recorder.
func FromContext(ctx context.Context) Recorder {
	if r, ok := ctx.Value(contextKey{}).(Recorder); ok {
		return r
	}
	return noopTelemetry{}
}
