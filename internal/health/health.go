// SPDX-License-Identifier: MIT

// Package health carries the daemon's liveness/readiness surface and the IR
// controller network monitor.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is one component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checks behind the HTTP probes.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health is the liveness view: the process answers, so the status only
// degrades through component checks, it never blocks startup.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks = make(map[string]CheckResult)
		resp.Status = m.runChecks(ctx, resp.Checks)
	}
	return resp
}

// Ready reports whether the daemon should receive traffic. Any unhealthy
// component flips readiness off.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks = make(map[string]CheckResult)
	resp.Status = m.runChecks(ctx, resp.Checks)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

func (m *Manager) runChecks(ctx context.Context, out map[string]CheckResult) Status {
	status := StatusHealthy
	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		out[checker.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return status
}

// ServeHealth handles the liveness probe. Always 200; verbose=true adds
// component detail.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles the readiness probe, 503 when not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")
	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}
}

// DatabaseChecker verifies the sqlite store answers and passes quick_check.
type DatabaseChecker struct {
	store *store.Store
}

func NewDatabaseChecker(st *store.Store) *DatabaseChecker {
	return &DatabaseChecker{store: st}
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	issues, err := c.store.VerifyIntegrity(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if len(issues) > 0 {
		return CheckResult{Status: StatusDegraded, Message: issues[0]}
	}
	return CheckResult{Status: StatusHealthy}
}

// QueueChecker degrades when commands sit in processing beyond the stuck
// threshold or the backlog grows past pendingOK. Stuck rows need the
// operator requeue tool; they do not fail liveness.
type QueueChecker struct {
	store     *store.Store
	stuckAge  time.Duration
	pendingOK int
}

func NewQueueChecker(st *store.Store) *QueueChecker {
	return &QueueChecker{store: st, stuckAge: 5 * time.Minute, pendingOK: 1000}
}

func (c *QueueChecker) Name() string { return "queue" }

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	stuck, err := c.store.CountStuckProcessing(ctx, c.stuckAge)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if stuck > 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "commands stuck in processing, requeue needed",
		}
	}
	pending, err := c.store.CountByStatus(ctx, model.StatusPending)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if pending > c.pendingOK {
		return CheckResult{Status: StatusDegraded, Message: "queue backlog high"}
	}
	return CheckResult{Status: StatusHealthy}
}
