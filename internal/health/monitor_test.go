// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/config"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/espapi"
	"github.com/smartvenue/venued/internal/store"
)

type fakeInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeInvalidator) Invalidate(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

// fakeNetwork answers device-info probes per IP.
type fakeNetwork struct {
	mu      sync.Mutex
	devices map[string]espapi.DeviceInfo
	probes  []string
}

func (n *fakeNetwork) probe(_ context.Context, ip string) (espapi.DeviceInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.probes = append(n.probes, ip)
	if info, ok := n.devices[ip]; ok {
		return info, nil
	}
	return espapi.DeviceInfo{}, fmt.Errorf("dial %s: no route", ip)
}

func newMonitorStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress: "DC:CF:89:F0:12:34", IPAddress: "192.0.2.10", Hostname: "ir-f01234", Adoptable: model.AdoptableUnlikely,
	}))
	require.NoError(t, st.CreateAdoption(ctx, model.ManagedController{
		ControllerID:   "ir-f01234",
		ControllerType: model.ControllerIRBlaster,
		IPAddress:      "192.0.2.10",
		MACAddress:     "DC:CF:89:F0:12:34",
		TotalPorts:     5,
		Capabilities:   map[string]any{"status_available": false},
	}, []model.Port{{ControllerID: "ir-f01234", PortNumber: 1, IsActive: true}}))
	return st
}

func newMonitor(st *store.Store, net *fakeNetwork, inv *fakeInvalidator) *Monitor {
	m := NewMonitor(st, inv, config.HealthConfig{})
	m.probe = net.probe
	return m
}

func TestCheckOneReachableRefreshesFirmware(t *testing.T) {
	st := newMonitorStore(t)
	net := &fakeNetwork{devices: map[string]espapi.DeviceInfo{
		"192.0.2.10": {MACAddress: "dc:cf:89:f0:12:34", ESPHomeVersion: "2024.6.4", Model: "esp8266"},
	}}
	inv := &fakeInvalidator{}
	m := newMonitor(st, net, inv)

	ctx := context.Background()
	ctrl, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	m.checkOne(ctx, ctrl)

	got, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	assert.Equal(t, "192.0.2.10", got.IPAddress)
	assert.Equal(t, "2024.6.4", got.Capabilities["firmware"])
	assert.Equal(t, false, got.Capabilities["status_available"], "existing capability keys survive the refresh")
	assert.Empty(t, inv.ids, "no move, no invalidation")
}

func TestCheckOneFollowsFreshDiscoveryAddress(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	// discovery has since seen the MAC at a new address
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress: "DC:CF:89:F0:12:34", IPAddress: "192.0.2.77", Hostname: "ir-f01234", Adoptable: model.AdoptableUnlikely,
	}))
	net := &fakeNetwork{devices: map[string]espapi.DeviceInfo{
		"192.0.2.77": {MACAddress: "DC:CF:89:F0:12:34", ESPHomeVersion: "2024.6.4"},
	}}
	inv := &fakeInvalidator{}
	m := newMonitor(st, net, inv)

	ctrl, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	m.checkOne(ctx, ctrl)

	got, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.77", got.IPAddress)
	assert.Equal(t, "192.0.2.10", got.LastIPAddress)
	assert.True(t, got.IsOnline)
	assert.Contains(t, inv.ids, "ir-f01234", "address move drops the cached executor")
}

func TestCheckOneSweepMatchesByMAC(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	net := &fakeNetwork{devices: map[string]espapi.DeviceInfo{
		// wrong device two addresses up, right device three down
		"192.0.2.12": {MACAddress: "02:00:00:00:00:99"},
		"192.0.2.7":  {MACAddress: "DC:CF:89:F0:12:34"},
	}}
	inv := &fakeInvalidator{}
	m := newMonitor(st, net, inv)

	ctrl, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	m.checkOne(ctx, ctrl)

	got, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", got.IPAddress, "sweep must skip the MAC mismatch")
	assert.Contains(t, inv.ids, "ir-f01234")
}

func TestCheckOneUnreachableGoesOffline(t *testing.T) {
	st := newMonitorStore(t)
	ctx := context.Background()

	m := newMonitor(st, &fakeNetwork{}, &fakeInvalidator{})
	ctrl, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	m.checkOne(ctx, ctrl)

	got, err := st.GetController(ctx, "ir-f01234")
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
}

func TestNeighborIPsNearestFirst(t *testing.T) {
	ips := neighborIPs("192.0.2.10", 2)
	assert.Equal(t, []string{"192.0.2.11", "192.0.2.9", "192.0.2.12", "192.0.2.8"}, ips)

	assert.Nil(t, neighborIPs("not-an-ip", 2))
}
