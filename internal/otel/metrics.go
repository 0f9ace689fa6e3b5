package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for memotask spans and metrics.
var (
	AttrTaskName   = attribute.Key("memotask.task.name")
	AttrRecordID   = attribute.Key("memotask.record.id")
	AttrParamsHash = attribute.Key("memotask.params.hash")
	AttrOutcome    = attribute.Key("memotask.outcome")
)

// Metrics holds the coordinator's instruments.
type Metrics struct {
	Invocations  metric.Int64Counter
	CacheHits    metric.Int64Counter
	Skips        metric.Int64Counter
	Failures     metric.Int64Counter
	TaskDuration metric.Float64Histogram
}

// NewMetrics creates all instruments from meter. A nil meter yields no-ops.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(ScopeName)
	}
	m := &Metrics{}
	var err error

	m.Invocations, err = meter.Int64Counter("memotask.invocations",
		metric.WithDescription("Memoized task invocations"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("memotask.cache.hits",
		metric.WithDescription("Invocations answered from a stored result"),
	)
	if err != nil {
		return nil, err
	}

	m.Skips, err = meter.Int64Counter("memotask.skips",
		metric.WithDescription("Invocations skipped because the task or a dependency was in progress"),
	)
	if err != nil {
		return nil, err
	}

	m.Failures, err = meter.Int64Counter("memotask.failures",
		metric.WithDescription("Invocations that ended FAILED"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("memotask.task.duration",
		metric.WithDescription("Wrapped computation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
