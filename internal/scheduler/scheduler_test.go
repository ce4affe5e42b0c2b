// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartvenue/venued/internal/cmdq"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

func newScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpsertCandidate(ctx, model.CandidateDevice{MACAddress: "DC:CF:89:F0:12:34", Adoptable: model.AdoptableUnlikely}))
	require.NoError(t, st.CreateAdoption(ctx, model.ManagedController{
		ControllerID:   "ir-f01234",
		ControllerType: model.ControllerIRBlaster,
		IPAddress:      "192.0.2.5",
		MACAddress:     "DC:CF:89:F0:12:34",
		Location:       "bar",
		TotalPorts:     2,
	}, []model.Port{
		{ControllerID: "ir-f01234", PortNumber: 1, IsActive: true},
		{ControllerID: "ir-f01234", PortNumber: 2, IsActive: true},
	}))

	s := New(st, cmdq.New(st, 7))
	s.sleep = func(context.Context, time.Duration) {}
	return s, st
}

func TestCreateValidatesAndComputesNextRun(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	sc, err := s.Create(ctx, model.Schedule{
		Name:           "morning on",
		CronExpression: "0 9 * * *",
		TargetType:     model.TargetAll,
		Actions:        []model.Action{{Kind: model.KindPowerOn}},
		IsActive:       true,
	})
	require.NoError(t, err)
	assert.NotZero(t, sc.ID)
	require.NotNil(t, sc.NextRun)
	assert.True(t, sc.NextRun.After(time.Now()))

	got, err := s.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "morning on", got.Name)
	require.NotNil(t, got.NextRun)
}

func TestCreateRejectsBadInput(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	cases := []struct {
		name string
		sc   model.Schedule
	}{
		{"bad cron", model.Schedule{Name: "x", CronExpression: "not cron", TargetType: model.TargetAll,
			Actions: []model.Action{{Kind: model.KindPowerOn}}}},
		{"six fields", model.Schedule{Name: "x", CronExpression: "0 0 9 * * *", TargetType: model.TargetAll,
			Actions: []model.Action{{Kind: model.KindPowerOn}}}},
		{"no actions", model.Schedule{Name: "x", CronExpression: "0 9 * * *", TargetType: model.TargetAll}},
		{"empty selection", model.Schedule{Name: "x", CronExpression: "0 9 * * *", TargetType: model.TargetSelection,
			Actions: []model.Action{{Kind: model.KindPowerOn}}}},
		{"repeat too large", model.Schedule{Name: "x", CronExpression: "0 9 * * *", TargetType: model.TargetAll,
			Actions: []model.Action{{Kind: model.KindVolumeUp, Repeat: 11}}}},
		{"bad power value", model.Schedule{Name: "x", CronExpression: "0 9 * * *", TargetType: model.TargetAll,
			Actions: []model.Action{{Kind: model.KindPower, Value: "toggle"}}}},
		{"channel with letters", model.Schedule{Name: "x", CronExpression: "0 9 * * *", TargetType: model.TargetAll,
			Actions: []model.Action{{Kind: model.KindChannel, Value: "12a"}}}},
		{"diagnostic not schedulable", model.Schedule{Name: "x", CronExpression: "0 9 * * *", TargetType: model.TargetAll,
			Actions: []model.Action{{Kind: model.KindDiagnostic}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Create(ctx, tc.sc)
			require.Error(t, err)
		})
	}
}

func TestFireExpandsActionsAcrossPorts(t *testing.T) {
	s, st := newScheduler(t)
	ctx := context.Background()

	sc, err := s.Create(ctx, model.Schedule{
		Name:           "open",
		CronExpression: "0 9 * * *",
		TargetType:     model.TargetAll,
		Actions: []model.Action{
			{Kind: model.KindPower, Value: "on", WaitAfter: 2},
			{Kind: model.KindChannel, Value: "012"},
			{Kind: model.KindVolumeDown, Repeat: 3},
		},
		IsActive: true,
	})
	require.NoError(t, err)

	s.fire(sc.ID)

	got, err := st.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(*got.LastRun))

	execs, err := st.ListScheduleExecutions(ctx, sc.ID, 5)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 10, execs[0].TotalCommands)
	assert.Regexp(t, `^sched_\d+_[0-9a-f]{8}$`, execs[0].BatchID)

	// 2 ports x (1 power + 1 channel + 3 volume) = 10 commands
	cmds, err := st.ListByBatch(ctx, execs[0].BatchID)
	require.NoError(t, err)
	require.Len(t, cmds, 10)

	kinds := map[model.CommandKind]int{}
	for _, cmd := range cmds {
		kinds[cmd.Kind]++
		assert.Equal(t, "scheduled", cmd.RoutingMethod)
		assert.Equal(t, model.ClassBulk, cmd.Class)
		if cmd.Kind == model.KindChannel {
			assert.Equal(t, "012", cmd.Channel, "leading zero survives expansion")
		}
	}
	assert.Equal(t, 2, kinds[model.KindPowerOn])
	assert.Equal(t, 2, kinds[model.KindChannel])
	assert.Equal(t, 6, kinds[model.KindVolumeDown])
}

func TestFireSkipsInactiveSchedule(t *testing.T) {
	s, st := newScheduler(t)
	ctx := context.Background()

	sc, err := s.Create(ctx, model.Schedule{
		Name:           "paused",
		CronExpression: "0 9 * * *",
		TargetType:     model.TargetAll,
		Actions:        []model.Action{{Kind: model.KindPowerOff}},
		IsActive:       false,
	})
	require.NoError(t, err)

	s.fire(sc.ID)

	pending, err := st.CountByStatus(ctx, model.StatusPending)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestFireEmptyTargetsAdvancesNextRun(t *testing.T) {
	s, st := newScheduler(t)
	ctx := context.Background()

	sc, err := s.Create(ctx, model.Schedule{
		Name:           "ghost zone",
		CronExpression: "*/5 * * * *",
		TargetType:     model.TargetLocation,
		TargetData:     model.TargetData{Locations: []string{"rooftop"}},
		Actions:        []model.Action{{Kind: model.KindPowerOff}},
		IsActive:       true,
	})
	require.NoError(t, err)

	before, err := st.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)

	s.fire(sc.ID)

	after, err := st.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	assert.Nil(t, after.LastRun, "failed expansion records no run")
	require.NotNil(t, after.NextRun)
	assert.False(t, after.NextRun.Before(*before.NextRun))
}

func TestUpdateReplacesCronEntry(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	sc, err := s.Create(ctx, model.Schedule{
		Name:           "close",
		CronExpression: "0 23 * * *",
		TargetType:     model.TargetAll,
		Actions:        []model.Action{{Kind: model.KindPowerOff}},
		IsActive:       true,
	})
	require.NoError(t, err)
	s.mu.Lock()
	firstEntry := s.entries[sc.ID]
	s.mu.Unlock()

	sc.CronExpression = "30 23 * * *"
	require.NoError(t, s.Update(ctx, sc))
	s.mu.Lock()
	secondEntry, ok := s.entries[sc.ID]
	s.mu.Unlock()
	require.True(t, ok)
	assert.NotEqual(t, firstEntry, secondEntry)

	// deactivating drops the entry without deleting the row
	sc.IsActive = false
	require.NoError(t, s.Update(ctx, sc))
	s.mu.Lock()
	_, ok = s.entries[sc.ID]
	s.mu.Unlock()
	assert.False(t, ok)

	got, err := s.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestDeleteUnregisters(t *testing.T) {
	s, _ := newScheduler(t)
	ctx := context.Background()

	sc, err := s.Create(ctx, model.Schedule{
		Name:           "gone",
		CronExpression: "0 9 * * *",
		TargetType:     model.TargetAll,
		Actions:        []model.Action{{Kind: model.KindPowerOn}},
		IsActive:       true,
	})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, sc.ID))

	_, err = s.Get(ctx, sc.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	s.mu.Lock()
	_, ok := s.entries[sc.ID]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestExpandActionVolumeRepeat(t *testing.T) {
	ports := []model.Port{{ControllerID: "ir-f01234", PortNumber: 1}}
	reqs := expandAction(model.Action{Kind: model.KindVolumeUp, Repeat: 4}, ports)
	assert.Len(t, reqs, 4)

	// repeat is ignored for non-volume kinds
	reqs = expandAction(model.Action{Kind: model.KindPowerOn, Repeat: 4}, ports)
	assert.Len(t, reqs, 1)
}
