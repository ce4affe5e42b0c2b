// SPDX-License-Identifier: MIT

// Package scheduler expands cron-driven schedules into command batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/cmdq"
	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/metrics"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// maxRepeat caps per-action repetition so a typo cannot flood the queue.
const maxRepeat = 10

// fireTimeout bounds a single schedule expansion including wait_after gaps.
const fireTimeout = 5 * time.Minute

// Scheduler owns the cron runner and keeps its entry table in lockstep with
// the schedules table.
type Scheduler struct {
	store  *store.Store
	queue  *cmdq.Service
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[int64]cron.EntryID

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

func New(st *store.Store, queue *cmdq.Service) *Scheduler {
	return &Scheduler{
		store:   st,
		queue:   queue,
		cron:    cron.New(),
		logger:  log.WithComponent("scheduler"),
		entries: make(map[int64]cron.EntryID),
		sleep:   sleepCtx,
	}
}

// Run loads active schedules, starts the cron runner and blocks until
// cancellation. In-flight expansions get a short grace period on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, sc := range schedules {
		if err := s.register(sc); err != nil {
			s.logger.Error().Err(err).
				Int64("schedule_id", sc.ID).
				Str("event", "scheduler.register_failed").
				Msg("cannot register schedule")
		}
	}
	s.cron.Start()
	s.logger.Info().
		Str("event", "scheduler.started").
		Int("schedules", len(schedules)).
		Msg("scheduler started")

	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn().Str("event", "scheduler.stop_timeout").Msg("expansion still running at shutdown")
	}
	return ctx.Err()
}

// Create validates and persists a schedule, registering it when active.
func (s *Scheduler) Create(ctx context.Context, sc model.Schedule) (model.Schedule, error) {
	cs, err := validate(sc)
	if err != nil {
		return sc, err
	}
	next := cs.Next(time.Now())
	sc.NextRun = &next

	id, err := s.store.CreateSchedule(ctx, sc)
	if err != nil {
		return sc, err
	}
	sc.ID = id
	if sc.IsActive {
		if err := s.register(sc); err != nil {
			return sc, err
		}
	}
	s.logger.Info().
		Str("event", "scheduler.created").
		Int64("schedule_id", id).
		Str("name", sc.Name).
		Str("cron", sc.CronExpression).
		Msg("schedule created")
	return sc, nil
}

// Update replaces a schedule and re-registers its cron entry atomically.
func (s *Scheduler) Update(ctx context.Context, sc model.Schedule) error {
	cs, err := validate(sc)
	if err != nil {
		return err
	}
	next := cs.Next(time.Now())
	sc.NextRun = &next

	if err := s.store.UpdateSchedule(ctx, sc); err != nil {
		return err
	}
	s.unregister(sc.ID)
	if sc.IsActive {
		return s.register(sc)
	}
	return nil
}

// Delete removes a schedule and its cron entry. Execution history remains.
func (s *Scheduler) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.unregister(id)
	return nil
}

// Get loads one schedule.
func (s *Scheduler) Get(ctx context.Context, id int64) (model.Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

// List returns all schedules.
func (s *Scheduler) List(ctx context.Context) ([]model.Schedule, error) {
	return s.store.ListSchedules(ctx, false)
}

func (s *Scheduler) register(sc model.Schedule) error {
	id := sc.ID
	entryID, err := s.cron.AddFunc(sc.CronExpression, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("register schedule %d: %w", id, err)
	}
	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) unregister(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire expands one schedule into a command batch. Failures advance next_run
// anyway so a broken schedule never wedges the runner.
func (s *Scheduler) fire(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error().Err(err).Int64("schedule_id", id).
				Str("event", "scheduler.load_failed").Msg("cannot load firing schedule")
		}
		return
	}
	if !sc.IsActive {
		return
	}

	now := time.Now()
	next := now.Add(time.Minute)
	if cs, err := cron.ParseStandard(sc.CronExpression); err == nil {
		next = cs.Next(now)
	}

	ports, err := s.resolveTargets(ctx, sc)
	if err != nil || len(ports) == 0 {
		metrics.SchedulesFired.WithLabelValues("empty").Inc()
		s.logger.Warn().Err(err).
			Int64("schedule_id", id).
			Str("target_type", string(sc.TargetType)).
			Str("event", "scheduler.no_targets").
			Msg("schedule resolved no targets")
		_ = s.store.AdvanceScheduleNextRun(ctx, id, next)
		return
	}

	batchID := cmdq.NewBatchID(fmt.Sprintf("sched_%d", id))
	total := 0
	for i, action := range sc.Actions {
		for _, req := range expandAction(action, ports) {
			req.BatchID = batchID
			if _, err := s.queue.Enqueue(ctx, req); err != nil {
				s.logger.Error().Err(err).
					Int64("schedule_id", id).
					Str("controller_id", req.ControllerID).
					Str("event", "scheduler.enqueue_failed").
					Msg("cannot enqueue scheduled command")
				continue
			}
			total++
		}
		if action.WaitAfter > 0 && i < len(sc.Actions)-1 {
			s.sleep(ctx, time.Duration(action.WaitAfter)*time.Second)
		}
	}

	if err := s.store.RecordScheduleRun(ctx, id, batchID, total, now, next); err != nil {
		s.logger.Error().Err(err).Int64("schedule_id", id).
			Str("event", "scheduler.record_failed").Msg("cannot record schedule run")
		return
	}
	metrics.SchedulesFired.WithLabelValues("ok").Inc()
	s.logger.Info().
		Str("event", "scheduler.fired").
		Int64("schedule_id", id).
		Str("batch_id", batchID).
		Int("commands", total).
		Int("targets", len(ports)).
		Msg("schedule fired")
}

// resolveTargets maps a schedule target to its active ports.
func (s *Scheduler) resolveTargets(ctx context.Context, sc model.Schedule) ([]model.Port, error) {
	switch sc.TargetType {
	case model.TargetAll:
		return s.store.ListActivePorts(ctx)
	case model.TargetSelection:
		return s.store.ListPortsByIDs(ctx, sc.TargetData.DeviceIDs)
	case model.TargetTag:
		return s.store.ListPortsByTags(ctx, sc.TargetData.TagIDs)
	case model.TargetLocation:
		return s.store.ListPortsByLocation(ctx, sc.TargetData.Locations)
	}
	return nil, fmt.Errorf("unknown target type %q", sc.TargetType)
}

// expandAction turns one action into per-port queue requests. Power actions
// with a value become directed power commands; repeat fans out volume steps.
func expandAction(action model.Action, ports []model.Port) []cmdq.Request {
	kind := action.Kind
	channel := ""
	switch kind {
	case model.KindPower:
		switch action.Value {
		case "on":
			kind = model.KindPowerOn
		case "off":
			kind = model.KindPowerOff
		}
	case model.KindChannel:
		channel = action.Value
	}

	repeat := 1
	if (kind == model.KindVolumeUp || kind == model.KindVolumeDown) && action.Repeat > 1 {
		repeat = action.Repeat
	}

	var reqs []cmdq.Request
	for _, port := range ports {
		for i := 0; i < repeat; i++ {
			reqs = append(reqs, cmdq.Request{
				ControllerID: port.ControllerID,
				PortNumber:   port.PortNumber,
				Kind:         kind,
				Channel:      channel,
				Class:        model.ClassBulk,
				Routing:      "scheduled",
			})
		}
	}
	return reqs
}

// validate checks the cron expression, target shape and action list.
func validate(sc model.Schedule) (cron.Schedule, error) {
	if sc.Name == "" {
		return nil, fmt.Errorf("schedule name required")
	}
	cs, err := cron.ParseStandard(sc.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", sc.CronExpression, err)
	}
	switch sc.TargetType {
	case model.TargetAll:
	case model.TargetSelection:
		if len(sc.TargetData.DeviceIDs) == 0 {
			return nil, fmt.Errorf("selection target needs device ids")
		}
	case model.TargetTag:
		if len(sc.TargetData.TagIDs) == 0 {
			return nil, fmt.Errorf("tag target needs tag ids")
		}
	case model.TargetLocation:
		if len(sc.TargetData.Locations) == 0 {
			return nil, fmt.Errorf("location target needs locations")
		}
	default:
		return nil, fmt.Errorf("unknown target type %q", sc.TargetType)
	}
	if len(sc.Actions) == 0 {
		return nil, fmt.Errorf("schedule needs at least one action")
	}
	for i, action := range sc.Actions {
		if err := validateAction(action); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return cs, nil
}

func validateAction(action model.Action) error {
	switch action.Kind {
	case model.KindPower:
		if action.Value != "" && action.Value != "on" && action.Value != "off" {
			return fmt.Errorf("power value %q not on/off", action.Value)
		}
	case model.KindPowerOn, model.KindPowerOff, model.KindMute,
		model.KindVolumeUp, model.KindVolumeDown,
		model.KindChannelUp, model.KindChannelDown:
	case model.KindChannel:
		if action.Value == "" {
			return fmt.Errorf("channel action needs a value")
		}
		for _, r := range action.Value {
			if r < '0' || r > '9' {
				return fmt.Errorf("channel %q contains non-digit %q", action.Value, r)
			}
		}
	default:
		return fmt.Errorf("kind %q not schedulable", action.Kind)
	}
	if action.Repeat < 0 || action.Repeat > maxRepeat {
		return fmt.Errorf("repeat %d out of range", action.Repeat)
	}
	if action.WaitAfter < 0 {
		return fmt.Errorf("wait_after %d negative", action.WaitAfter)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
