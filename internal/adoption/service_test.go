// SPDX-License-Identifier: MIT

package adoption

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/espapi"
	"github.com/smartvenue/venued/internal/protocol/ocp1"
	"github.com/smartvenue/venued/internal/protocol/plena"
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

func newService(t *testing.T) (*Service, *store.Store, *fakeInvalidator) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	inv := &fakeInvalidator{}
	svc := New(st, inv)
	svc.probeSamsung = func(context.Context, string) (model.Protocol, string, error) {
		return model.ProtocolSamsungWebsocket, "tok-123", nil
	}
	svc.fetchIRCaps = func(context.Context, string) (espapi.DeviceInfo, espapi.Capabilities, error) {
		return espapi.DeviceInfo{ESPHomeVersion: "2024.6.4", Model: "esp8266"},
			espapi.Capabilities{
				Project: "smartvenue.ir-blaster",
				Schema:  2,
				Ports:   []espapi.CapabilityPort{{Port: 1, Lib: 7, Brand: "samsung"}},
			}, nil
	}
	svc.discoverAES70 = func(context.Context, string) ([]ocp1.Zone, error) {
		return []ocp1.Zone{
			{Name: "Bar", GainONo: 0x1001, MuteONo: 0x1002, GainMin: -80, GainMax: 10},
			{Name: "Patio", GainONo: 0x1003, GainMin: -60, GainMax: 6},
		}, nil
	}
	svc.discoverPlena = func(context.Context, string) (plena.DeviceInfo, plena.ZoneNames, error) {
		return plena.DeviceInfo{Model: "PLM-4P125", Firmware: "1.0.0.2", DeviceName: "Bar Amp"},
			plena.ZoneNames{
				Inputs:  [4]string{"Mic 1", "Mic 2", "BGM", "Aux"},
				Outputs: [4]string{"Main Bar", "Patio", "Kitchen", "Restrooms"},
			}, nil
	}
	return svc, st, inv
}

func seedCandidate(t *testing.T, st *store.Store, c model.CandidateDevice) {
	t.Helper()
	require.NoError(t, st.UpsertCandidate(context.Background(), c))
}

func TestAdoptIRBlasterCreatesFivePorts(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "DC:CF:89:AB:CD:EF",
		IPAddress: "192.0.2.20",
		Hostname:  "ir-abcdef",
	})

	ctrl, err := svc.Adopt(ctx, "dc:cf:89:ab:cd:ef", "main bar")
	require.NoError(t, err)
	assert.Equal(t, "ir-abcdef", ctrl.ControllerID)
	assert.Equal(t, model.ControllerIRBlaster, ctrl.ControllerType)
	assert.Empty(t, ctrl.Protocol)
	assert.Equal(t, 5, ctrl.TotalPorts)
	assert.Equal(t, "main bar", ctrl.Location)

	ports, err := st.ListPorts(ctx, "ir-abcdef")
	require.NoError(t, err)
	require.Len(t, ports, 5)
	wantGPIO := map[int]string{1: "GPIO13", 2: "GPIO15", 3: "GPIO12", 4: "GPIO16", 5: "GPIO5"}
	for _, p := range ports {
		assert.Equal(t, wantGPIO[p.PortNumber], p.ConnectionConfig["gpio"])
	}

	// the capability snapshot commits after the adoption transaction
	assert.Equal(t, "smartvenue.ir-blaster", ctrl.Capabilities["project"])
	assert.Equal(t, "2024.6.4", ctrl.Capabilities["firmware"])

	cand, err := st.GetCandidate(ctx, "DC:CF:89:AB:CD:EF")
	require.NoError(t, err)
	assert.True(t, cand.IsAdopted)
}

func TestAdoptIRBlasterSurvivesCapabilityFailure(t *testing.T) {
	svc, st, _ := newService(t)
	svc.fetchIRCaps = func(context.Context, string) (espapi.DeviceInfo, espapi.Capabilities, error) {
		return espapi.DeviceInfo{}, espapi.Capabilities{}, fmt.Errorf("connect: timeout")
	}
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "DC:CF:89:00:00:01",
		IPAddress: "192.0.2.21",
		Hostname:  "irc-000001",
	})

	ctrl, err := svc.Adopt(context.Background(), "DC:CF:89:00:00:01", "")
	require.NoError(t, err, "capability fetch failure must not abort adoption")
	assert.Equal(t, "ir-000001", ctrl.ControllerID)
	assert.Nil(t, ctrl.Capabilities["project"])
}

func TestAdoptSamsungStoresToken(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "F8:3F:51:12:34:56",
		IPAddress: "192.0.2.30",
		Hostname:  "samsung-tv-lounge",
		Vendor:    "Samsung Electronics",
		OpenPorts: []int{8001, 8002},
	})

	ctrl, err := svc.Adopt(ctx, "F8:3F:51:12:34:56", "")
	require.NoError(t, err)
	assert.Equal(t, "nw-123456", ctrl.ControllerID)
	assert.Equal(t, model.ProtocolSamsungWebsocket, ctrl.Protocol)
	assert.Equal(t, true, ctrl.Capabilities["token_support"])

	port, err := st.GetPort(ctx, "nw-123456", 1)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", port.ConnectionConfig["auth_token"])
}

func TestAdoptSamsungProbeFailureLeavesCandidate(t *testing.T) {
	svc, st, _ := newService(t)
	svc.probeSamsung = func(context.Context, string) (model.Protocol, string, error) {
		return "", "", fmt.Errorf("all endpoints refused")
	}
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "F8:3F:51:00:00:02",
		IPAddress: "192.0.2.31",
		Vendor:    "Samsung Electronics",
		OpenPorts: []int{8002},
	})

	_, err := svc.Adopt(context.Background(), "F8:3F:51:00:00:02", "")
	require.ErrorIs(t, err, ErrProtocolProbeFailed)

	cand, err := st.GetCandidate(context.Background(), "F8:3F:51:00:00:02")
	require.NoError(t, err)
	assert.False(t, cand.IsAdopted)

	ctrls, err := st.ListControllers(context.Background(), store.ControllerFilter{})
	require.NoError(t, err)
	assert.Empty(t, ctrls)
}

func TestAdoptByPortPresence(t *testing.T) {
	cases := []struct {
		name      string
		ports     []int
		wantProto model.Protocol
		wantType  model.ControllerType
	}{
		{"lg", []int{3001}, model.ProtocolLGWebOS, model.ControllerNetworkTV},
		{"roku", []int{8060}, model.ProtocolRoku, model.ControllerStreamingDevice},
		{"vizio", []int{7345}, model.ProtocolVizioSmartcast, model.ControllerStreamingDevice},
		{"sony", []int{50002}, model.ProtocolSonyBravia, model.ControllerNetworkTV},
		{"hisense", []int{36669}, model.ProtocolHisenseVidaa, model.ControllerNetworkTV},
		{"philips", []int{1926}, model.ProtocolPhilipsJointspace, model.ControllerNetworkTV},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, st, _ := newService(t)
			mac := fmt.Sprintf("A0:B1:C2:00:00:%02X", i+1)
			seedCandidate(t, st, model.CandidateDevice{
				Adoptable: model.AdoptableUnlikely, MACAddress: mac, IPAddress: "192.0.2.40", OpenPorts: tc.ports,
			})
			ctrl, err := svc.Adopt(context.Background(), mac, "")
			require.NoError(t, err)
			assert.Equal(t, tc.wantProto, ctrl.Protocol)
			assert.Equal(t, tc.wantType, ctrl.ControllerType)
		})
	}
}

func TestAdoptAES70MapsZonesToPorts(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "00:1B:66:11:22:33",
		IPAddress: "192.0.2.50",
		Vendor:    "Bosch Security Systems",
		OpenPorts: []int{65000},
	})

	ctrl, err := svc.Adopt(ctx, "00:1B:66:11:22:33", "")
	require.NoError(t, err)
	assert.Equal(t, "aud-bosch-192-0-2-50", ctrl.ControllerID, "ip octets are dash-encoded in the id")
	assert.Equal(t, model.ProtocolBoschAES70, ctrl.Protocol)
	assert.Equal(t, 2, ctrl.TotalPorts)

	port, err := st.GetPort(ctx, ctrl.ControllerID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Bar", port.ConnectedDeviceName)
	want := map[string]any{
		"gain_ono": float64(0x1001),
		"mute_ono": float64(0x1002),
		"gain_min": float64(-80),
		"gain_max": float64(10),
	}
	if diff := cmp.Diff(want, port.ConnectionConfig); diff != "" {
		t.Fatalf("zone config mismatch (-want +got):\n%s", diff)
	}
}

func TestAdoptPlenaMatrixUsesZoneNames(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "00:26:5E:44:55:66",
		IPAddress:       "192.0.2.60",
		DeviceTypeGuess: "audio_amp",
	})

	ctrl, err := svc.Adopt(ctx, "00:26:5E:44:55:66", "")
	require.NoError(t, err)
	assert.Equal(t, "plm-192-0-2-60", ctrl.ControllerID, "ip octets are dash-encoded in the id")
	assert.Equal(t, model.ProtocolBoschPlenaMatrix, ctrl.Protocol)
	assert.Equal(t, 4, ctrl.TotalPorts)
	assert.Equal(t, "PLM-4P125", ctrl.Capabilities["model"])

	ports, err := st.ListPorts(ctx, ctrl.ControllerID)
	require.NoError(t, err)
	require.Len(t, ports, 4)
	assert.Equal(t, "Main Bar", ports[0].ConnectedDeviceName)
	assert.Equal(t, float64(1), ports[0].ConnectionConfig["zone"])
}

func TestAdoptTwiceFailsAlreadyAdopted(t *testing.T) {
	svc, st, _ := newService(t)
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "DC:CF:89:AA:BB:CC", IPAddress: "192.0.2.22", Hostname: "ir-aabbcc",
	})

	_, err := svc.Adopt(context.Background(), "DC:CF:89:AA:BB:CC", "")
	require.NoError(t, err)
	_, err = svc.Adopt(context.Background(), "DC:CF:89:AA:BB:CC", "")
	require.ErrorIs(t, err, ErrAlreadyAdopted)
}

func TestGenerateIDSuffixCounter(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	// occupy the base id with a different MAC
	seedCandidate(t, st, model.CandidateDevice{Adoptable: model.AdoptableUnlikely, MACAddress: "02:00:00:AB:CD:EF"})
	require.NoError(t, st.CreateAdoption(ctx, model.ManagedController{
		ControllerID:   "ir-abcdef",
		ControllerType: model.ControllerIRBlaster,
		IPAddress:      "192.0.2.70",
		MACAddress:     "02:00:00:AB:CD:EF",
		TotalPorts:     1,
	}, []model.Port{{ControllerID: "ir-abcdef", PortNumber: 1, IsActive: true}}))

	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "DC:CF:89:AB:CD:EF", IPAddress: "192.0.2.71", Hostname: "ir-abcdef",
	})
	ctrl, err := svc.Adopt(ctx, "DC:CF:89:AB:CD:EF", "")
	require.NoError(t, err)
	assert.Equal(t, "ir-abcdef-2", ctrl.ControllerID)
}

func TestUnadoptFreesCandidateAndInvalidates(t *testing.T) {
	svc, st, inv := newService(t)
	ctx := context.Background()
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "DC:CF:89:AB:CD:EF", IPAddress: "192.0.2.20", Hostname: "ir-abcdef",
	})
	ctrl, err := svc.Adopt(ctx, "DC:CF:89:AB:CD:EF", "")
	require.NoError(t, err)

	require.NoError(t, svc.Unadopt(ctx, ctrl.ControllerID))
	assert.Contains(t, inv.ids, ctrl.ControllerID)

	cand, err := st.GetCandidate(ctx, "DC:CF:89:AB:CD:EF")
	require.NoError(t, err)
	assert.False(t, cand.IsAdopted)

	_, err = st.GetController(ctx, ctrl.ControllerID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBeginAdoptSamsungAwaitsConfirmation(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "F8:3F:51:12:34:56",
		IPAddress: "192.0.2.30",
		Vendor:    "Samsung Electronics",
		OpenPorts: []int{8002},
	})

	sess, err := svc.BeginAdopt(ctx, "F8:3F:51:12:34:56", "lounge")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, sess.State)
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	ctrl, err := svc.CompleteAdopt(ctx, sess.ID, "lounge")
	require.NoError(t, err)
	assert.Equal(t, "nw-123456", ctrl.ControllerID)

	// sessions are single-use
	_, err = svc.CompleteAdopt(ctx, sess.ID, "lounge")
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestBeginAdoptNonSamsungIsSynchronous(t *testing.T) {
	svc, st, _ := newService(t)
	seedCandidate(t, st, model.CandidateDevice{
		Adoptable: model.AdoptableUnlikely, MACAddress: "DC:CF:89:AB:CD:EF", IPAddress: "192.0.2.20", Hostname: "ir-abcdef",
	})

	sess, err := svc.BeginAdopt(context.Background(), "DC:CF:89:AB:CD:EF", "")
	require.NoError(t, err)
	assert.Equal(t, StateAdopted, sess.State)
	assert.Equal(t, "ir-abcdef", sess.Controller.ControllerID)
}
