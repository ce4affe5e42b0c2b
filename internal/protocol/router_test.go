// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

func newRouterStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func adoptController(t *testing.T, st *store.Store, ctrl model.ManagedController, ports []model.Port) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress: ctrl.MACAddress,
		IPAddress:  ctrl.IPAddress,
		Adoptable:  model.AdoptableUnlikely,
	}))
	require.NoError(t, st.CreateAdoption(ctx, ctrl, ports))
}

func TestBuildExecutorMapping(t *testing.T) {
	cases := []struct {
		ctrlType model.ControllerType
		protocol model.Protocol
		want     any
	}{
		{model.ControllerIRBlaster, "", &IRExecutor{}},
		{model.ControllerNetworkTV, model.ProtocolSamsungWebsocket, &SamsungWSExecutor{}},
		{model.ControllerNetworkTV, model.ProtocolSamsungLegacy, &SamsungLegacyExecutor{}},
		{model.ControllerNetworkTV, model.ProtocolLGWebOS, &LGWebOSExecutor{}},
		{model.ControllerNetworkTV, model.ProtocolSonyBravia, &SonyExecutor{}},
		{model.ControllerNetworkTV, model.ProtocolHisenseVidaa, &HisenseExecutor{}},
		{model.ControllerNetworkTV, model.ProtocolPhilipsJointspace, &PhilipsExecutor{}},
		{model.ControllerStreamingDevice, model.ProtocolRoku, &RokuExecutor{}},
		{model.ControllerStreamingDevice, model.ProtocolVizioSmartcast, &VizioExecutor{}},
		{model.ControllerAudio, model.ProtocolBoschAES70, &AES70Executor{}},
		{model.ControllerAudio, model.ProtocolBoschPlenaMatrix, &PlenaMatrixExecutor{}},
	}
	for _, tc := range cases {
		exec, err := buildExecutor(model.ManagedController{
			ControllerType: tc.ctrlType,
			Protocol:       tc.protocol,
			IPAddress:      "192.0.2.1",
			MACAddress:     "DC:CF:89:F0:12:34",
		}, nil)
		require.NoError(t, err, "%s/%s", tc.ctrlType, tc.protocol)
		assert.IsType(t, tc.want, exec, "%s/%s", tc.ctrlType, tc.protocol)
		_ = exec.Close()
	}
}

func TestBuildExecutorUnknownProtocol(t *testing.T) {
	_, err := buildExecutor(model.ManagedController{
		ControllerType: model.ControllerNetworkTV,
		Protocol:       "betamax",
	}, nil)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindUnsupported, pe.Kind)
}

func TestRouterCachesAndInvalidates(t *testing.T) {
	st := newRouterStore(t)
	ctx := context.Background()

	adoptController(t, st, model.ManagedController{
		ControllerID:   "nw-f01234",
		ControllerType: model.ControllerStreamingDevice,
		Protocol:       model.ProtocolRoku,
		IPAddress:      "192.0.2.9",
		MACAddress:     "DC:CF:89:F0:12:34",
		TotalPorts:     1,
	}, []model.Port{{ControllerID: "nw-f01234", PortNumber: 1, IsActive: true}})

	r := NewRouter(st)
	first, _, err := r.entry(ctx, "nw-f01234")
	require.NoError(t, err)
	second, _, err := r.entry(ctx, "nw-f01234")
	require.NoError(t, err)
	assert.Same(t, first, second, "executor is cached per controller")

	r.Invalidate("nw-f01234")
	third, _, err := r.entry(ctx, "nw-f01234")
	require.NoError(t, err)
	assert.NotSame(t, first, third, "invalidation rebuilds the executor")
	r.CloseAll()
}

func TestRouterUnknownController(t *testing.T) {
	r := NewRouter(newRouterStore(t))
	err := r.Execute(context.Background(), model.Command{ControllerID: "nw-missing"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouterSelectsTokenFromPortConfig(t *testing.T) {
	exec, err := buildExecutor(model.ManagedController{
		ControllerType: model.ControllerNetworkTV,
		Protocol:       model.ProtocolSamsungWebsocket,
		IPAddress:      "192.0.2.2",
	}, []model.Port{{PortNumber: 1, ConnectionConfig: map[string]any{"auth_token": "T123"}}})
	require.NoError(t, err)
	ws, ok := exec.(*SamsungWSExecutor)
	require.True(t, ok)
	assert.Equal(t, "T123", ws.token)
}
