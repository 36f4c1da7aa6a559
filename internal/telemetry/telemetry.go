// Package telemetry wraps OpenTelemetry metrics behind a small recorder so
// the rest of the service does not depend on OTEL types. The global
// MeterProvider is used; configure it before serving traffic (for example via
// clue.ConfigureOpenTelemetry) or leave the no-op default in tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dslhub/dslhub"

// Metrics records the service's counters, histograms and gauges.
type Metrics struct {
	meter metric.Meter
}

// New constructs a Metrics recorder backed by the global MeterProvider.
func New() *Metrics {
	return &Metrics{meter: otel.Meter(meterName)}
}

// RecordLLMCall records one LLM port invocation with its latency.
// Status is "ok", "fallback" or "error".
func (m *Metrics) RecordLLMCall(ctx context.Context, method, provider, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	if counter, err := m.meter.Int64Counter("llm_calls_total"); err == nil {
		counter.Add(ctx, 1, attrs)
	}
	if hist, err := m.meter.Float64Histogram("llm_call_seconds"); err == nil {
		hist.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordRunDuration records the wall-clock duration of a finished agent run.
func (m *Metrics) RecordRunDuration(ctx context.Context, status string, elapsed time.Duration) {
	if hist, err := m.meter.Float64Histogram("agent_run_seconds"); err == nil {
		hist.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordMessageCreated counts a persisted thread message.
func (m *Metrics) RecordMessageCreated(ctx context.Context, role, source string) {
	if counter, err := m.meter.Int64Counter("messages_created_total"); err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("role", role),
			attribute.String("source", source),
		))
	}
}

// RecordIdempotencyCacheSize records the current idempotency cache entry count.
func (m *Metrics) RecordIdempotencyCacheSize(ctx context.Context, n int) {
	if hist, err := m.meter.Int64Histogram("idempotency_cache_entries"); err == nil {
		hist.Record(ctx, int64(n))
	}
}
