package observability

import (
	"context"
	"fmt"

	"github.com/kbukum/guardkit/resilience"
)

// HealthStatus represents the health state of a component or service.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDown     HealthStatus = "down"
	HealthStatusDegraded HealthStatus = "degraded"
)

// Health describes the health of an individual component.
type Health struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ServiceHealth describes the overall health of a service and its components.
type ServiceHealth struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	Version    string       `json:"version,omitempty"`
	Components []Health     `json:"components,omitempty"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) Health
}

// NewServiceHealth creates a ServiceHealth with status up.
func NewServiceHealth(service, version string) *ServiceHealth {
	return &ServiceHealth{
		Service: service,
		Status:  HealthStatusUp,
		Version: version,
	}
}

// AddComponent adds a component health result and degrades overall status if needed.
func (sh *ServiceHealth) AddComponent(ch Health) {
	sh.Components = append(sh.Components, ch)

	switch ch.Status {
	case HealthStatusDown:
		sh.Status = HealthStatusDown
	case HealthStatusDegraded:
		if sh.Status != HealthStatusDown {
			sh.Status = HealthStatusDegraded
		}
	}
}

// StateSource is the executor surface the health check reads.
type StateSource interface {
	Metrics() resilience.ExecutorSnapshot
}

// executorHealth reports degraded when any circuit is not closed.
type executorHealth struct {
	name   string
	source StateSource
}

// ExecutorHealth creates a HealthChecker over an Executor (or anything
// exposing its snapshot). Open circuits mean a dependency is being
// failed fast, so the component reports degraded rather than down.
func ExecutorHealth(name string, source StateSource) HealthChecker {
	return &executorHealth{name: name, source: source}
}

func (h *executorHealth) CheckHealth(_ context.Context) Health {
	snap := h.source.Metrics()

	details := make(map[string]string)
	unhealthy := 0
	for key, state := range snap.BreakerStates {
		if state != resilience.StateClosed {
			unhealthy++
		}
		details[key] = state.String()
	}

	health := Health{Name: h.name, Status: HealthStatusUp, Details: details}
	if unhealthy > 0 {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("%d circuit(s) not closed", unhealthy)
	}
	return health
}
