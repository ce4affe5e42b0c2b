// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/model"
)

func testCandidate(mac string) model.CandidateDevice {
	return model.CandidateDevice{
		MACAddress:      mac,
		IPAddress:       "192.168.1.40",
		Hostname:        "samsung-tv",
		Vendor:          "Samsung Electronics",
		DeviceTypeGuess: "tv",
		OpenPorts:       []int{8001, 8002},
		Confidence:      95,
		Adoptable:       model.AdoptableReady,
		Reasons:         []string{"open TV control port 8002"},
	}
}

func irController(id string) (model.ManagedController, []model.Port) {
	ctrl := model.ManagedController{
		ControllerID:   id,
		ControllerType: model.ControllerIRBlaster,
		IPAddress:      "192.168.1.77",
		MACAddress:     "AA:BB:CC:DD:EE:FF",
		TotalPorts:     5,
	}
	ports := make([]model.Port, 0, 5)
	for i := 1; i <= 5; i++ {
		ports = append(ports, model.Port{
			ControllerID:     id,
			PortNumber:       i,
			IsActive:         true,
			ConnectionConfig: map[string]any{"gpio": model.IRPortGPIO[i]},
		})
	}
	return ctrl, ports
}

func TestUpsertCandidatePreservesFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := testCandidate("DC:CF:89:F0:12:34")
	require.NoError(t, s.UpsertCandidate(ctx, c))
	require.NoError(t, s.SetCandidateHidden(ctx, c.MACAddress, true))

	// re-observation with a new IP keeps hidden flag, updates address
	c.IPAddress = "192.168.1.41"
	require.NoError(t, s.UpsertCandidate(ctx, c))

	got, err := s.GetCandidate(ctx, c.MACAddress)
	require.NoError(t, err)
	require.True(t, got.IsHidden)
	require.Equal(t, "192.168.1.41", got.IPAddress)
	require.Equal(t, []int{8001, 8002}, got.OpenPorts)
}

func TestHiddenCandidatesExcludedFromListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCandidate(ctx, testCandidate("DC:CF:89:F0:12:34")))
	require.NoError(t, s.SetCandidateHidden(ctx, "DC:CF:89:F0:12:34", true))

	list, err := s.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	// unhide returns it to the discovery list
	require.NoError(t, s.SetCandidateHidden(ctx, "DC:CF:89:F0:12:34", false))
	list, err = s.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAdoptionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mac := "AA:BB:CC:DD:EE:FF"
	cand := testCandidate(mac)
	cand.Hostname = "ir-ddeeff"
	require.NoError(t, s.UpsertCandidate(ctx, cand))

	ctrl, ports := irController("ir-ddeeff")
	require.NoError(t, s.CreateAdoption(ctx, ctrl, ports))

	// candidate flipped
	got, err := s.GetCandidate(ctx, mac)
	require.NoError(t, err)
	require.True(t, got.IsAdopted)

	// port count matches total_ports
	stored, err := s.GetController(ctx, "ir-ddeeff")
	require.NoError(t, err)
	gotPorts, err := s.ListPorts(ctx, "ir-ddeeff")
	require.NoError(t, err)
	require.Len(t, gotPorts, stored.TotalPorts)
	require.Equal(t, "GPIO13", gotPorts[0].ConnectionConfig["gpio"])

	// unadopt: controller gone, ports cascade, candidate reset
	require.NoError(t, s.DeleteController(ctx, "ir-ddeeff"))
	_, err = s.GetController(ctx, "ir-ddeeff")
	require.ErrorIs(t, err, ErrNotFound)
	gotPorts, err = s.ListPorts(ctx, "ir-ddeeff")
	require.NoError(t, err)
	require.Empty(t, gotPorts)
	got, err = s.GetCandidate(ctx, mac)
	require.NoError(t, err)
	require.False(t, got.IsAdopted)

	// adopt again: state equals first adoption modulo timestamps
	ctrl2, ports2 := irController("ir-ddeeff")
	require.NoError(t, s.CreateAdoption(ctx, ctrl2, ports2))
	again, err := s.GetController(ctx, "ir-ddeeff")
	require.NoError(t, err)
	require.Equal(t, stored.ControllerType, again.ControllerType)
	require.Equal(t, stored.TotalPorts, again.TotalPorts)
	require.Equal(t, stored.MACAddress, again.MACAddress)
}

func TestAdoptionRollsBackOnDuplicatePort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mac := "AA:BB:CC:DD:EE:FF"
	require.NoError(t, s.UpsertCandidate(ctx, testCandidate(mac)))

	ctrl, ports := irController("ir-ddeeff")
	ports[4].PortNumber = 1 // violates (controller_id, port_number) uniqueness
	err := s.CreateAdoption(ctx, ctrl, ports)
	require.Error(t, err)

	// nothing was committed
	_, err = s.GetController(ctx, "ir-ddeeff")
	require.ErrorIs(t, err, ErrNotFound)
	got, err := s.GetCandidate(ctx, mac)
	require.NoError(t, err)
	require.False(t, got.IsAdopted, "candidate unchanged after rollback")
}

func TestTagUsageProjection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagID, err := s.CreateTag(ctx, "bar", "#ff0000")
	require.NoError(t, err)

	ctrl, ports := irController("ir-ddeeff")
	ports[0].TagIDs = []int{tagID}
	ports[1].TagIDs = []int{tagID, 99}
	require.NoError(t, s.CreateAdoption(ctx, ctrl, ports))

	tag, err := s.GetTag(ctx, tagID)
	require.NoError(t, err)
	require.Equal(t, 2, tag.UsageCount)

	tagged, err := s.ListPortsByTags(ctx, []int{tagID})
	require.NoError(t, err)
	require.Len(t, tagged, 2)
}

func TestListPortsByLocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ctrl, ports := irController("ir-ddeeff")
	ctrl.Location = "bistro"
	require.NoError(t, s.CreateAdoption(ctx, ctrl, ports))

	found, err := s.ListPortsByLocation(ctx, []string{"bistro", "bar"})
	require.NoError(t, err)
	require.Len(t, found, 5)

	none, err := s.ListPortsByLocation(ctx, []string{"outside"})
	require.NoError(t, err)
	require.Empty(t, none)
}
