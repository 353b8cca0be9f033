// internal/common/observability/observability.go
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability owns the OpenTelemetry meter and tracer providers.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          otelmetric.Meter
	tracer         trace.Tracer

	cycleCounter  otelmetric.Int64Counter
	cycleDuration otelmetric.Float64Histogram
}

// New installs global providers. The Prometheus exporter registers with the
// default registry so otel instruments appear on /metrics.
func New(serviceName string, opts ...sdktrace.TracerProviderOption) (*Observability, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)...)
	otel.SetTracerProvider(tp)

	o := &Observability{
		meterProvider:  mp,
		tracerProvider: tp,
		meter:          mp.Meter(serviceName),
		tracer:         tp.Tracer(serviceName),
	}

	o.cycleCounter, o.cycleDuration, err = newCycleInstruments(o.meter, "plan")
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newCycleInstruments(m otelmetric.Meter, prefix string) (otelmetric.Int64Counter, otelmetric.Float64Histogram, error) {
	counter, err := m.Int64Counter(
		prefix+".cycles",
		otelmetric.WithDescription("Number of store generation cycles by outcome"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create cycle counter: %w", err)
	}
	duration, err := m.Float64Histogram(
		prefix+".cycle.duration",
		otelmetric.WithDescription("Store generation cycle duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create cycle duration histogram: %w", err)
	}
	return counter, duration, nil
}

// StartSpan starts a span on the service tracer.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Middleware runs each request inside a span named "METHOD /path".
func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := o.StartSpan(r.Context(), r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RecordCycle records one finished Store generation cycle.
func (o *Observability) RecordCycle(ctx context.Context, status string, duration time.Duration) {
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	if o.cycleCounter != nil {
		o.cycleCounter.Add(ctx, 1, attrs)
	}
	if o.cycleDuration != nil {
		o.cycleDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

// Shutdown flushes and stops both providers.
func (o *Observability) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var firstErr error
	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
