package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker aggregates readiness across registered dependencies.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	logger  *slog.Logger
	started time.Time
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Uptime string                 `json:"uptime,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger, started: time.Now()}
}

// AddCheck registers a named readiness check.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// CheckHealth reports liveness; a running process is always "ok".
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok", Uptime: time.Since(h.started).Round(time.Second).String()}
}

// CheckReady runs every registered check concurrently under a shared
// timeout. The result is "degraded" when any check fails.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{Status: "ok"}
	if len(checks) == 0 {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Go(func() {
			if err := c.Check(ctx); err != nil {
				results[i] = CheckResult{Status: "fail", Message: err.Error()}
				return
			}
			results[i] = CheckResult{Status: "ok"}
		})
	}
	wg.Wait()

	status.Checks = make(map[string]CheckResult, len(checks))
	for i, c := range checks {
		status.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			status.Status = "degraded"
			if h.logger != nil {
				h.logger.Warn("readiness check failed",
					slog.String("check", c.Name),
					slog.String("error", results[i].Message),
				)
			}
		}
	}
	return status
}
