package rpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records per-operation request counts and latencies through the
// global OpenTelemetry meter provider. With no provider configured the
// instruments are no-ops.
type Metrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewMetrics registers the request instruments.
func NewMetrics() *Metrics {
	meter := otel.Meter("github.com/fabworks/shopfloor/internal/rpc")

	requests, _ := meter.Int64Counter("shopfloor.rpc.requests",
		metric.WithDescription("RPC requests by operation"))
	errs, _ := meter.Int64Counter("shopfloor.rpc.errors",
		metric.WithDescription("RPC errors by operation and kind"))
	latency, _ := meter.Float64Histogram("shopfloor.rpc.duration",
		metric.WithDescription("RPC request duration"),
		metric.WithUnit("ms"))

	return &Metrics{requests: requests, errors: errs, latency: latency}
}

// Record counts one request and its latency; errors are counted by kind.
func (m *Metrics) Record(ctx context.Context, operation string, elapsed time.Duration, err error) {
	op := attribute.String("operation", operation)
	m.requests.Add(ctx, 1, metric.WithAttributes(op))
	m.latency.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(op))
	if err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(op,
			attribute.String("kind", KindOf(err))))
	}
}
