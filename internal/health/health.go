package health

import (
	"context"
	"sort"
	"time"
)

// Pinger is any dependency that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	checks  map[string]Pinger
	timeout time.Duration
}

type HealthStatus struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]Pinger), timeout: 2 * time.Second}
}

// Register adds a named dependency to readiness checks
func (h *HealthChecker) Register(name string, p Pinger) {
	h.checks[name] = p
}

func (h *HealthChecker) CheckBasic(ctx context.Context) HealthStatus {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := HealthStatus{Status: "healthy", Components: make(map[string]ComponentHealth, len(names))}
	for _, name := range names {
		c := h.check(ctx, h.checks[name])
		if c.Status != "healthy" {
			status.Status = "unhealthy"
		}
		status.Components[name] = c
	}
	return status
}

func (h *HealthChecker) check(ctx context.Context, p Pinger) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	responseTime := time.Since(start).Milliseconds()

	if err != nil {
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: responseTime,
			Error:        err.Error(),
		}
	}

	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: responseTime,
	}
}
