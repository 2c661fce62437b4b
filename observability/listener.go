package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/guardkit/resilience"
)

// Listener bridges resilience hooks and counter snapshots to
// OpenTelemetry instruments.
type Listener struct {
	rejections  metric.Int64Counter
	transitions metric.Int64Counter

	admittedTotal metric.Int64Gauge
	rejectedTotal metric.Int64Gauge
	breakerState  metric.Int64Gauge
}

// NewListener creates the resilience instruments on the given meter.
func NewListener(meter metric.Meter) (*Listener, error) {
	rejections, err := meter.Int64Counter("resilience.rejections",
		metric.WithDescription("Admission rejections by component and key"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resilience.rejections counter: %w", err)
	}

	transitions, err := meter.Int64Counter("resilience.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions by key"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resilience.breaker.transitions counter: %w", err)
	}

	admittedTotal, err := meter.Int64Gauge("resilience.admitted.total",
		metric.WithDescription("Cumulative admissions by component and key"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resilience.admitted.total gauge: %w", err)
	}

	rejectedTotal, err := meter.Int64Gauge("resilience.rejected.total",
		metric.WithDescription("Cumulative rejections by component and key"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resilience.rejected.total gauge: %w", err)
	}

	breakerState, err := meter.Int64Gauge("resilience.breaker.state",
		metric.WithDescription("Circuit state by key (0 closed, 1 open, 2 half-open)"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resilience.breaker.state gauge: %w", err)
	}

	return &Listener{
		rejections:    rejections,
		transitions:   transitions,
		admittedTotal: admittedTotal,
		rejectedTotal: rejectedTotal,
		breakerState:  breakerState,
	}, nil
}

// ExecutorOptions returns the hook options that wire an Executor to
// this listener's instruments.
func (l *Listener) ExecutorOptions() []resilience.ExecutorOption {
	return []resilience.ExecutorOption{
		resilience.WithRejectHook(l.OnReject),
		resilience.WithStateHook(l.OnStateChange),
	}
}

// OnReject counts one admission rejection.
func (l *Listener) OnReject(component, key string) {
	l.rejections.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("key", key),
	))
}

// OnStateChange counts one circuit transition and updates the state
// gauge.
func (l *Listener) OnStateChange(key string, from, to resilience.State) {
	ctx := context.Background()
	l.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	l.breakerState.Record(ctx, int64(to), metric.WithAttributes(
		attribute.String("key", key),
	))
}

// RecordSnapshot mirrors a counter snapshot into the cumulative gauges.
// Call it periodically, or once per scrape.
func (l *Listener) RecordSnapshot(ctx context.Context, snap resilience.ExecutorSnapshot) {
	for component, keys := range snap.Components {
		for key, counters := range keys {
			attrs := metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("key", key),
			)
			l.admittedTotal.Record(ctx, int64(counters.Admitted), attrs)
			l.rejectedTotal.Record(ctx, int64(counters.Rejected), attrs)
		}
	}
	for key, state := range snap.BreakerStates {
		l.breakerState.Record(ctx, int64(state), metric.WithAttributes(
			attribute.String("key", key),
		))
	}
}
