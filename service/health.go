package service

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheck is a function that performs a health check.
type HealthCheck func(ctx context.Context) HealthCheckResult

// HealthCheckable is implemented by modules that report their own health.
type HealthCheckable interface {
	HealthStatus() HealthCheckResult
}

// HealthChecker aggregates named checks behind /healthz.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]HealthCheck)}
}

// RegisterCheck adds a named health check function.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register adds a HealthCheckable under name.
func (h *HealthChecker) Register(name string, c HealthCheckable) {
	h.RegisterCheck(name, func(context.Context) HealthCheckResult { return c.HealthStatus() })
}

// Handler runs every check; any unhealthy check answers 503.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		checks := maps.Clone(h.checks)
		h.mu.RUnlock()

		overall := StatusHealthy
		results := make(map[string]HealthCheckResult, len(checks))
		for name, check := range checks {
			result := check(r.Context())
			results[name] = result
			switch {
			case result.Status == StatusUnhealthy:
				overall = StatusUnhealthy
			case result.Status == StatusDegraded && overall == StatusHealthy:
				overall = StatusDegraded
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if overall == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": results,
		})
	}
}
