// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/store"
)

type staticChecker struct {
	name   string
	result CheckResult
}

func (c staticChecker) Name() string                      { return c.name }
func (c staticChecker) Check(context.Context) CheckResult { return c.result }

func TestHealthAlwaysOK(t *testing.T) {
	m := NewManager("1.2.3")
	m.RegisterChecker(staticChecker{"broken", CheckResult{Status: StatusUnhealthy, Error: "down"}})

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code, "liveness never fails while the process answers")

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz?verbose=true", nil))
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Contains(t, resp.Checks, "broken")
}

func TestReadyAggregatesCheckers(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(staticChecker{"db", CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(staticChecker{"queue", CheckResult{Status: StatusDegraded, Message: "backlog"}})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready, "degraded components keep readiness on")
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(staticChecker{"down", CheckResult{Status: StatusUnhealthy}})
	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestDatabaseChecker(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	result := NewDatabaseChecker(st).Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestQueueCheckerHealthyWhenEmpty(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	result := NewQueueChecker(st).Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}
