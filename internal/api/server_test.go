// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/adoption"
	"github.com/smartvenue/venued/internal/cmdq"
	"github.com/smartvenue/venued/internal/health"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/scheduler"
	"github.com/smartvenue/venued/internal/store"
)

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(string) {}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	queue := cmdq.New(st, 7)
	adopt := adoption.New(st, noopInvalidator{})
	sched := scheduler.New(st, queue)
	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewDatabaseChecker(st))
	hm.RegisterChecker(health.NewQueueChecker(st))

	return New(":0", st, queue, adopt, sched, hm), st
}

func seedController(t *testing.T, st *store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	mac := fmt.Sprintf("DC:CF:89:%02X:%02X:%02X", len(id), len(id)+1, len(id)+2)
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress: mac, IPAddress: "192.0.2.10", Hostname: id, Adoptable: model.AdoptableUnlikely,
	}))
	require.NoError(t, st.CreateAdoption(ctx, model.ManagedController{
		ControllerID:   id,
		ControllerType: model.ControllerIRBlaster,
		IPAddress:      "192.0.2.10",
		MACAddress:     mac,
		TotalPorts:     2,
	}, []model.Port{
		{ControllerID: id, PortNumber: 1, IsActive: true, ConnectionConfig: map[string]any{"gpio": "GPIO13"}},
		{ControllerID: id, PortNumber: 2, IsActive: true},
	}))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueAndFetchCommand(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0001")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/commands", map[string]any{
		"controller_id": "ir-aa0001",
		"port_number":   1,
		"kind":          "power_on",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotZero(t, resp.CommandID)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/commands/%d", resp.CommandID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cmd commandDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmd))
	assert.Equal(t, "ir-aa0001", cmd.ControllerID)
	assert.Equal(t, "pending", cmd.Status)
	assert.Equal(t, "interactive", cmd.Class, "class defaults when omitted")
	assert.Equal(t, 5, cmd.Priority)
}

func TestEnqueueByHostnameAlias(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0002")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/commands", map[string]any{
		"hostname":    "ir-aa0002.local",
		"port_number": 1,
		"kind":        "mute",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	cmd, err := st.GetCommand(context.Background(), resp.CommandID)
	require.NoError(t, err)
	assert.Equal(t, "ir-aa0002", cmd.ControllerID)
}

func TestEnqueueErrorMapping(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0003")
	h := s.Routes()

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown controller", map[string]any{"controller_id": "ir-nobody", "kind": "power_on"}, http.StatusNotFound},
		{"unknown kind", map[string]any{"controller_id": "ir-aa0003", "kind": "explode"}, http.StatusBadRequest},
		{"missing target", map[string]any{"kind": "power_on"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"controller_id": "ir-aa0003", "kind": "power_on", "chanel": "5"}, http.StatusBadRequest},
		{"channel without digits", map[string]any{"controller_id": "ir-aa0003", "kind": "channel", "channel": "12a"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/commands", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestBatchEnqueueAndStatus(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0004")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/commands/batch", map[string]any{
		"commands": []map[string]any{
			{"controller_id": "ir-aa0004", "port_number": 1, "kind": "power_off", "class": "bulk"},
			{"controller_id": "ir-aa0004", "port_number": 2, "kind": "power_off", "class": "bulk"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp batchEnqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.BatchID)
	assert.Equal(t, 2, resp.Total)

	rec = doJSON(t, h, http.MethodGet, "/api/batches/"+resp.BatchID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch batchDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, 2, batch.Pending)
	assert.False(t, batch.Done)
	assert.Len(t, batch.Commands, 2)

	rec = doJSON(t, h, http.MethodGet, "/api/batches/no-such-batch", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControllerRoutes(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0005")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodGet, "/api/controllers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []controllerDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "ir-aa0005", list[0].ControllerID)

	rec = doJSON(t, h, http.MethodGet, "/api/controllers/ir-aa0005", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/controllers/ir-nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdatePortPartialBody(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0006")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPut, "/api/controllers/ir-aa0006/ports/1", map[string]any{
		"connected_device_name": "Main Bar TV",
		"default_channel":       "206",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p, err := st.GetPort(context.Background(), "ir-aa0006", 1)
	require.NoError(t, err)
	assert.Equal(t, "Main Bar TV", p.ConnectedDeviceName)
	assert.Equal(t, "206", p.DefaultChannel)
	assert.True(t, p.IsActive, "fields absent from the body keep their value")
}

func TestPortConfigRedactsAuthToken(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress: "AA:BB:CC:12:34:56", IPAddress: "192.0.2.40", Adoptable: model.AdoptableUnlikely,
	}))
	require.NoError(t, st.CreateAdoption(ctx, model.ManagedController{
		ControllerID:   "nw-123456",
		ControllerType: model.ControllerNetworkTV,
		Protocol:       model.ProtocolSamsungWebsocket,
		IPAddress:      "192.0.2.40",
		MACAddress:     "AA:BB:CC:12:34:56",
		TotalPorts:     1,
	}, []model.Port{{
		ControllerID: "nw-123456", PortNumber: 1, IsActive: true,
		ConnectionConfig: map[string]any{"auth_token": "secret-token", "ws_port": 8002},
	}}))

	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/controllers/nw-123456/ports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ports []portDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ports))
	require.Len(t, ports, 1)
	assert.Equal(t, "***", ports[0].ConnectionConfig["auth_token"])
	assert.EqualValues(t, 8002, ports[0].ConnectionConfig["ws_port"])
}

func TestCandidateHideUnhide(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress: "DC:CF:89:01:02:03", IPAddress: "192.0.2.50", Adoptable: model.AdoptableUnlikely,
	}))
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/candidates/DC:CF:89:01:02:03/hide", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/candidates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cands []candidateDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cands))
	assert.Empty(t, cands, "hidden candidates stay out of the default listing")

	rec = doJSON(t, h, http.MethodGet, "/api/candidates?include_hidden=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cands))
	require.Len(t, cands, 1)
	assert.True(t, cands[0].IsHidden)

	rec = doJSON(t, h, http.MethodPost, "/api/candidates/DC:CF:89:01:02:03/unhide", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestScheduleLifecycle(t *testing.T) {
	s, st := newTestServer(t)
	seedController(t, st, "ir-aa0007")
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/schedules", map[string]any{
		"name":            "morning warmup",
		"cron_expression": "0 9 * * *",
		"target_type":     "all",
		"actions":         []map[string]any{{"kind": "power_on"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created scheduleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.ID)
	require.NotNil(t, created.NextRun)

	rec = doJSON(t, h, http.MethodPut, fmt.Sprintf("/api/schedules/%d", created.ID), map[string]any{
		"name":            "evening shutdown",
		"cron_expression": "0 23 * * *",
		"target_type":     "all",
		"actions":         []map[string]any{{"kind": "power_off"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated scheduleDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "evening shutdown", updated.Name)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/schedules/%d/executions", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/schedules/%d", created.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/schedules/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleRejectsBadCron(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/schedules", map[string]any{
		"name":            "broken",
		"cron_expression": "not cron",
		"target_type":     "all",
		"actions":         []map[string]any{{"kind": "power_on"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTagLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/tags", map[string]any{"name": "patio", "color": "#00aa55"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tag tagDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tag))
	require.NotZero(t, tag.ID)

	rec = doJSON(t, h, http.MethodGet, "/api/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tags []tagDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	require.Len(t, tags, 1)
	assert.Equal(t, "patio", tags[0].Name)

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/tags/%d", tag.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/tags", map[string]any{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequeueStuck(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/queue/requeue-stuck", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp["requeued"])
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Routes()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/candidates", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}
