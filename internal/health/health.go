// Package health provides health check functionality.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imedwei/clinic-backup/internal/backup"
	"github.com/imedwei/clinic-backup/internal/schedule"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component works but its last action partly failed.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check result.
type Check struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Checker performs health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]func(context.Context) Check
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]func(context.Context) Check),
	}
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, checkFunc func(context.Context) Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = checkFunc
}

// CheckHealth performs all registered health checks.
func (c *Checker) CheckHealth(ctx context.Context) map[string]Check {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]Check)
	for name, checkFunc := range c.checks {
		results[name] = checkFunc(ctx)
	}
	return results
}

// Overall folds check results into one status. Unhealthy beats degraded.
func Overall(results map[string]Check) Status {
	overall := StatusHealthy
	for _, check := range results {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.CheckHealth(r.Context())
		overallStatus := Overall(results)

		response := struct {
			Status    Status           `json:"status"`
			Checks    map[string]Check `json:"checks"`
			Timestamp time.Time        `json:"timestamp"`
		}{
			Status:    overallStatus,
			Checks:    results,
			Timestamp: time.Now(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overallStatus == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// LastRunCheck reports the outcome of the most recent backup run. A run with
// failed destinations is degraded rather than unhealthy: the process itself
// still works.
func LastRunCheck(last func() *backup.Report) func(context.Context) Check {
	return func(ctx context.Context) Check {
		check := Check{Status: StatusHealthy, Timestamp: time.Now()}
		report := last()
		if report == nil {
			check.Details = map[string]interface{}{"last_run": "none"}
			return check
		}

		check.Details = map[string]interface{}{
			"run_id":      report.RunID.String(),
			"trigger":     report.Trigger,
			"finished_at": report.FinishedAt,
			"uploaded":    report.Uploaded(),
			"deleted":     report.Deleted(),
		}
		if failed := report.Failed(); len(failed) > 0 {
			check.Status = StatusDegraded
			check.Details["failed_destinations"] = failed
		}
		return check
	}
}

// ScheduleCheck reports the active schedule and its next fire time.
func ScheduleCheck(cell *schedule.Cell) func(context.Context) Check {
	return func(ctx context.Context) Check {
		cfg := cell.Load()
		details := map[string]interface{}{
			"enabled":  cfg.Enabled,
			"timezone": cfg.Timezone,
		}
		if next, ok := schedule.NextFire(cfg, time.Now()); ok {
			details["next_run"] = next
		}
		return Check{Status: StatusHealthy, Timestamp: time.Now(), Details: details}
	}
}

// Readiness flips to ready once startup has loaded the configuration.
type Readiness struct {
	ready atomic.Bool
}

// SetReady marks the process ready or not ready.
func (r *Readiness) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Handler returns the readiness check handler.
func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

// LivenessHandler returns a simple liveness check handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive\n"))
	}
}
