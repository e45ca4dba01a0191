// Package observability exports render metrics over OpenTelemetry.
// With no OTLP endpoint configured the provider is a no-op apart from
// cheap in-process counters used by tests and the health surface.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls metric export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // empty disables export
	Insecure       bool
}

// Metrics holds the service's instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider // nil when export is disabled
	meter    metric.Meter

	renderTotal    metric.Int64Counter
	renderDuration metric.Float64Histogram
	cacheHits      metric.Int64Counter

	// Plain counters readable without a metrics backend.
	rendered  atomic.Int64
	cacheHit  atomic.Int64
	renderErr atomic.Int64
}

// New builds the metrics provider. ctx is used for exporter setup.
func New(ctx context.Context, cfg Config) (*Metrics, error) {
	m := &Metrics{}

	var meter metric.Meter
	if cfg.OTLPEndpoint == "" {
		meter = noop.NewMeterProvider().Meter("snapgate")
	} else {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		))
		if err != nil {
			return nil, fmt.Errorf("otel resource: %w", err)
		}
		m.provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		)
		meter = m.provider.Meter("snapgate")
	}
	m.meter = meter

	var err error
	if m.renderTotal, err = meter.Int64Counter("render_total",
		metric.WithDescription("Completed render tasks by bucket, kind and status")); err != nil {
		return nil, err
	}
	if m.renderDuration, err = meter.Float64Histogram("render_duration_seconds",
		metric.WithDescription("Wall time of one render task"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("cache_hit_total",
		metric.WithDescription("Requests served from a fresh cached artifact")); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterQueueDepth exports depth as the queue_depth gauge, sampled
// at each metric collection.
func (m *Metrics) RegisterQueueDepth(depth func() int64) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("queue_depth",
		metric.WithDescription("Render tasks waiting in the queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(depth())
			return nil
		}))
	return err
}

// RecordRender counts one finished render task.
func (m *Metrics) RecordRender(ctx context.Context, bucket, kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
		m.renderErr.Add(1)
	}
	m.rendered.Add(1)
	attrs := metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.renderTotal.Add(ctx, 1, attrs)
	m.renderDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCacheHit counts one request answered from cache.
func (m *Metrics) RecordCacheHit(ctx context.Context, bucket, kind string) {
	if m == nil {
		return
	}
	m.cacheHit.Add(1)
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("kind", kind),
	))
}

// Rendered reports the total number of finished render tasks.
func (m *Metrics) Rendered() int64 {
	if m == nil {
		return 0
	}
	return m.rendered.Load()
}

// CacheHits reports the total number of cache-served requests.
func (m *Metrics) CacheHits() int64 {
	if m == nil {
		return 0
	}
	return m.cacheHit.Load()
}

// RenderErrors reports the total number of failed render tasks.
func (m *Metrics) RenderErrors() int64 {
	if m == nil {
		return 0
	}
	return m.renderErr.Load()
}

// Shutdown flushes pending metric exports.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
