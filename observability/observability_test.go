package observability

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/guardkit/resilience"
)

func newTestListener(t *testing.T) (*Listener, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	l, err := NewListener(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	return l, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func sumValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", m.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestListener_OnReject(t *testing.T) {
	l, reader := newTestListener(t)

	l.OnReject(resilience.ComponentBulkhead, "svc")
	l.OnReject(resilience.ComponentBulkhead, "svc")
	l.OnReject(resilience.ComponentRateLimiter, "other")

	rm := collect(t, reader)
	m, ok := findMetric(rm, "resilience.rejections")
	if !ok {
		t.Fatal("resilience.rejections not recorded")
	}
	if got := sumValue(t, m); got != 3 {
		t.Errorf("expected 3 rejections, got %d", got)
	}
}

func TestListener_OnStateChange(t *testing.T) {
	l, reader := newTestListener(t)

	l.OnStateChange("svc", resilience.StateClosed, resilience.StateOpen)

	rm := collect(t, reader)
	if m, ok := findMetric(rm, "resilience.breaker.transitions"); !ok {
		t.Fatal("resilience.breaker.transitions not recorded")
	} else if got := sumValue(t, m); got != 1 {
		t.Errorf("expected 1 transition, got %d", got)
	}

	m, ok := findMetric(rm, "resilience.breaker.state")
	if !ok {
		t.Fatal("resilience.breaker.state not recorded")
	}
	gauge, ok := m.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("breaker state is not an int64 gauge")
	}
	if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != int64(resilience.StateOpen) {
		t.Errorf("unexpected state gauge: %+v", gauge.DataPoints)
	}
}

func TestListener_RecordSnapshot(t *testing.T) {
	l, reader := newTestListener(t)

	snap := resilience.ExecutorSnapshot{
		Snapshot: resilience.Snapshot{Components: map[string]map[string]resilience.Counters{
			resilience.ComponentBulkhead: {
				"svc": {Admitted: 10, Rejected: 2},
			},
		}},
		BreakerStates: map[string]resilience.State{"svc": resilience.StateHalfOpen},
	}
	l.RecordSnapshot(context.Background(), snap)

	rm := collect(t, reader)
	checkGauge := func(name string, want int64) {
		m, ok := findMetric(rm, name)
		if !ok {
			t.Fatalf("%s not recorded", name)
		}
		gauge, ok := m.Data.(metricdata.Gauge[int64])
		if !ok {
			t.Fatalf("%s is not an int64 gauge", name)
		}
		if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != want {
			t.Errorf("%s: expected %d, got %+v", name, want, gauge.DataPoints)
		}
	}
	checkGauge("resilience.admitted.total", 10)
	checkGauge("resilience.rejected.total", 2)
	checkGauge("resilience.breaker.state", int64(resilience.StateHalfOpen))
}

func TestListener_WiredToExecutor(t *testing.T) {
	l, reader := newTestListener(t)

	policy := resilience.DefaultPolicy()
	policy.FailureThreshold = 1
	exec, err := resilience.NewExecutor(policy, l.ExecutorOptions()...)
	if err != nil {
		t.Fatal(err)
	}

	boom := context.DeadlineExceeded
	_ = exec.Do(context.Background(), "svc", func(context.Context) error { return boom })
	_ = exec.Do(context.Background(), "svc", func(context.Context) error { return nil })

	// Hooks fire before Do returns, so one collection sees both.
	rm := collect(t, reader)
	transitions, ok := findMetric(rm, "resilience.breaker.transitions")
	if !ok || sumValue(t, transitions) < 1 {
		t.Error("state hook did not reach the transitions counter")
	}
	rejections, ok := findMetric(rm, "resilience.rejections")
	if !ok || sumValue(t, rejections) < 1 {
		t.Error("reject hook did not reach the rejections counter")
	}
}

func TestServiceHealth_Aggregation(t *testing.T) {
	sh := NewServiceHealth("svc", "1.0.0")
	if sh.Status != HealthStatusUp {
		t.Fatalf("expected up, got %s", sh.Status)
	}

	sh.AddComponent(Health{Name: "a", Status: HealthStatusUp})
	if sh.Status != HealthStatusUp {
		t.Errorf("expected up, got %s", sh.Status)
	}

	sh.AddComponent(Health{Name: "b", Status: HealthStatusDegraded})
	if sh.Status != HealthStatusDegraded {
		t.Errorf("expected degraded, got %s", sh.Status)
	}

	sh.AddComponent(Health{Name: "c", Status: HealthStatusDown})
	if sh.Status != HealthStatusDown {
		t.Errorf("expected down, got %s", sh.Status)
	}

	// A later degraded component must not mask down.
	sh.AddComponent(Health{Name: "d", Status: HealthStatusDegraded})
	if sh.Status != HealthStatusDown {
		t.Errorf("expected down to stick, got %s", sh.Status)
	}
}

type fakeStateSource struct {
	snap resilience.ExecutorSnapshot
}

func (f *fakeStateSource) Metrics() resilience.ExecutorSnapshot { return f.snap }

func TestExecutorHealth(t *testing.T) {
	t.Run("all closed is up", func(t *testing.T) {
		source := &fakeStateSource{snap: resilience.ExecutorSnapshot{
			BreakerStates: map[string]resilience.State{"a": resilience.StateClosed},
		}}
		h := ExecutorHealth("resilience", source).CheckHealth(context.Background())
		if h.Status != HealthStatusUp {
			t.Errorf("expected up, got %s", h.Status)
		}
	})

	t.Run("open circuit degrades", func(t *testing.T) {
		source := &fakeStateSource{snap: resilience.ExecutorSnapshot{
			BreakerStates: map[string]resilience.State{
				"a": resilience.StateClosed,
				"b": resilience.StateOpen,
			},
		}}
		h := ExecutorHealth("resilience", source).CheckHealth(context.Background())
		if h.Status != HealthStatusDegraded {
			t.Errorf("expected degraded, got %s", h.Status)
		}
		if h.Details["b"] != "open" {
			t.Errorf("expected open detail, got %+v", h.Details)
		}
	})
}

func TestDefaultMeterConfig(t *testing.T) {
	cfg := DefaultMeterConfig("svc")
	if cfg.ServiceName != "svc" {
		t.Errorf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("unexpected endpoint %q", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Error("expected insecure default for development")
	}
}
