// SPDX-License-Identifier: MIT

package cmdq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{MACAddress: "DC:CF:89:F0:12:34", Adoptable: model.AdoptableUnlikely}))
	require.NoError(t, st.CreateAdoption(ctx, model.ManagedController{
		ControllerID:   "nw-f01234",
		ControllerType: model.ControllerNetworkTV,
		Protocol:       model.ProtocolRoku,
		IPAddress:      "192.0.2.5",
		MACAddress:     "DC:CF:89:F0:12:34",
		TotalPorts:     1,
	}, []model.Port{{ControllerID: "nw-f01234", PortNumber: 1, IsActive: true}}))

	return New(st, 7), st
}

func TestEnqueueAppliesClassDefaults(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, Request{
		ControllerID: "nw-f01234",
		PortNumber:   1,
		Kind:         model.KindPowerOn,
		Class:        model.ClassInteractive,
	})
	require.NoError(t, err)

	cmd, err := st.GetCommand(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, cmd.Priority)
	assert.Equal(t, 3, cmd.MaxAttempts)
	assert.Equal(t, model.StatusPending, cmd.Status)
	assert.Equal(t, "api", cmd.RoutingMethod)
}

func TestEnqueueImmediateNeverRetries(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	five := 5
	id, err := svc.Enqueue(ctx, Request{
		ControllerID: "nw-f01234",
		PortNumber:   0,
		Kind:         model.KindDiagnostic,
		Class:        model.ClassImmediate,
		MaxAttempts:  &five, // ignored for diagnostics
	})
	require.NoError(t, err)

	cmd, err := st.GetCommand(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, cmd.MaxAttempts)
	assert.Equal(t, 0, cmd.Priority)
}

func TestEnqueueValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"unknown kind", Request{ControllerID: "nw-f01234", Kind: "reboot"}},
		{"unknown class", Request{ControllerID: "nw-f01234", Kind: model.KindPower, Class: "urgent"}},
		{"channel without value", Request{ControllerID: "nw-f01234", Kind: model.KindChannel}},
		{"channel with letters", Request{ControllerID: "nw-f01234", Kind: model.KindChannel, Channel: "12a"}},
		{"digit out of range", Request{ControllerID: "nw-f01234", Kind: model.KindNumber, Digit: 12}},
		{"negative port", Request{ControllerID: "nw-f01234", Kind: model.KindPower, PortNumber: -1}},
		{"unknown controller", Request{ControllerID: "nw-nope", Kind: model.KindPower, PortNumber: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Enqueue(ctx, tc.req)
			require.Error(t, err)
		})
	}
}

func TestEnqueueChannelPreservesLeadingZeros(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, Request{
		ControllerID: "nw-f01234",
		PortNumber:   1,
		Kind:         model.KindChannel,
		Channel:      "007",
		Class:        model.ClassBulk,
	})
	require.NoError(t, err)

	cmd, err := st.GetCommand(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "007", cmd.Channel)
}

func TestEnqueueBatchSharesBatchID(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	batchID, err := svc.EnqueueBatch(ctx, []Request{
		{ControllerID: "nw-f01234", PortNumber: 1, Kind: model.KindPowerOn, Class: model.ClassBulk},
		{ControllerID: "nw-f01234", PortNumber: 1, Kind: model.KindChannel, Channel: "42", Class: model.ClassBulk},
	})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	bs, err := st.BatchStatus(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, 2, bs.Total)
	assert.Equal(t, 2, bs.Pending)
	assert.False(t, bs.Done())
}

func TestNewBatchIDShape(t *testing.T) {
	id := NewBatchID("sched_12")
	assert.Regexp(t, `^sched_12_[0-9a-f]{8}$`, id)
}

func TestUntilNextPurge(t *testing.T) {
	loc := time.UTC
	before := time.Date(2026, 8, 24, 2, 0, 0, 0, loc)
	assert.Equal(t, time.Hour, untilNextPurge(before))

	after := time.Date(2026, 8, 24, 4, 0, 0, 0, loc)
	assert.Equal(t, 23*time.Hour, untilNextPurge(after))
}
