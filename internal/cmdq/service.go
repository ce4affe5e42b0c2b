// SPDX-License-Identifier: MIT

// Package cmdq is the producer-facing queue surface: enqueue validation,
// class defaults, batch helpers and the queue maintenance loop.
package cmdq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/metrics"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// stuckThreshold is the age after which a processing command counts as
// stuck. No auto-recovery; RequeueStuck is the operator tool.
const stuckThreshold = 5 * time.Minute

// purgeHour is the local hour of the daily retention sweep.
const purgeHour = 3

// Service validates and enqueues commands and runs queue maintenance.
type Service struct {
	store         *store.Store
	retentionDays int
	logger        zerolog.Logger
}

func New(st *store.Store, retentionDays int) *Service {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	return &Service{
		store:         st,
		retentionDays: retentionDays,
		logger:        log.WithComponent("cmdq"),
	}
}

// Request is one producer submission.
type Request struct {
	ControllerID string
	PortNumber   int
	Kind         model.CommandKind
	Channel      string
	Digit        int
	Class        model.CommandClass
	BatchID      string
	Priority     *int
	MaxAttempts  *int
	ScheduledAt  *time.Time
	Routing      string
	UserIP       string
}

var validKinds = map[model.CommandKind]bool{
	model.KindPower: true, model.KindPowerOn: true, model.KindPowerOff: true,
	model.KindMute: true, model.KindVolumeUp: true, model.KindVolumeDown: true,
	model.KindChannelUp: true, model.KindChannelDown: true, model.KindChannel: true,
	model.KindNumber: true, model.KindDiagnostic: true,
}

var validClasses = map[model.CommandClass]bool{
	model.ClassImmediate: true, model.ClassInteractive: true,
	model.ClassBulk: true, model.ClassSystem: true,
}

// Enqueue validates a request, applies class defaults and appends the
// command. The controller must exist; the port may be 0 for device-level
// diagnostics.
func (s *Service) Enqueue(ctx context.Context, req Request) (int64, error) {
	cmd, err := s.validate(ctx, req)
	if err != nil {
		return 0, err
	}
	id, err := s.store.InsertCommand(ctx, cmd)
	if err != nil {
		return 0, err
	}
	s.logger.Debug().
		Str("event", "cmdq.enqueued").
		Int64("command_id", id).
		Str("controller_id", cmd.ControllerID).
		Str("kind", string(cmd.Kind)).
		Str("class", string(cmd.Class)).
		Str("batch_id", cmd.BatchID).
		Msg("command enqueued")
	return id, nil
}

func (s *Service) validate(ctx context.Context, req Request) (model.Command, error) {
	var cmd model.Command
	if !validKinds[req.Kind] {
		return cmd, fmt.Errorf("unknown command kind %q", req.Kind)
	}
	if req.Class == "" {
		req.Class = model.ClassInteractive
	}
	if !validClasses[req.Class] {
		return cmd, fmt.Errorf("unknown command class %q", req.Class)
	}
	if req.PortNumber < 0 {
		return cmd, fmt.Errorf("port %d out of range", req.PortNumber)
	}
	if req.Kind == model.KindChannel {
		if req.Channel == "" {
			return cmd, fmt.Errorf("channel command requires a channel")
		}
		for _, r := range req.Channel {
			if r < '0' || r > '9' {
				return cmd, fmt.Errorf("channel %q contains non-digit %q", req.Channel, r)
			}
		}
	}
	if req.Kind == model.KindNumber && (req.Digit < 0 || req.Digit > 9) {
		return cmd, fmt.Errorf("digit %d out of range", req.Digit)
	}

	exists, err := s.store.ControllerExists(ctx, req.ControllerID)
	if err != nil {
		return cmd, err
	}
	if !exists {
		return cmd, fmt.Errorf("controller %s: %w", req.ControllerID, store.ErrNotFound)
	}

	priority := req.Class.DefaultPriority()
	if req.Priority != nil {
		priority = *req.Priority
	}
	maxAttempts := req.Class.DefaultMaxAttempts()
	if req.MaxAttempts != nil && *req.MaxAttempts > 0 {
		maxAttempts = *req.MaxAttempts
	}
	if req.Class == model.ClassImmediate {
		maxAttempts = 1 // diagnostics never retry
	}
	routing := req.Routing
	if routing == "" {
		routing = "api"
	}

	return model.Command{
		BatchID:       req.BatchID,
		ControllerID:  req.ControllerID,
		PortNumber:    req.PortNumber,
		Kind:          req.Kind,
		Channel:       req.Channel,
		Digit:         req.Digit,
		Class:         req.Class,
		Priority:      priority,
		MaxAttempts:   maxAttempts,
		ScheduledAt:   req.ScheduledAt,
		RoutingMethod: routing,
		UserIP:        req.UserIP,
	}, nil
}

// EnqueueBatch submits a set of requests under one shared batch id and
// returns it. An empty batch is an error.
func (s *Service) EnqueueBatch(ctx context.Context, reqs []Request) (string, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("empty batch")
	}
	batchID := NewBatchID("batch")
	for i := range reqs {
		reqs[i].BatchID = batchID
		if _, err := s.Enqueue(ctx, reqs[i]); err != nil {
			return batchID, fmt.Errorf("batch %s item %d: %w", batchID, i, err)
		}
	}
	return batchID, nil
}

// NewBatchID builds a prefixed batch identifier with a short uuid tail.
func NewBatchID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8])
}

// BatchStatus projects the state of a batch.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (model.BatchStatus, error) {
	return s.store.BatchStatus(ctx, batchID)
}

// Command loads one command for completion polling.
func (s *Service) Command(ctx context.Context, id int64) (model.Command, error) {
	return s.store.GetCommand(ctx, id)
}

// RunMaintenance owns the retention purge and the queue health gauges. The
// purge fires daily at the retention hour; gauges refresh every minute.
func (s *Service) RunMaintenance(ctx context.Context) error {
	gauges := time.NewTicker(time.Minute)
	defer gauges.Stop()

	purge := time.NewTimer(untilNextPurge(time.Now()))
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gauges.C:
			s.refreshGauges(ctx)
		case <-purge.C:
			s.purge(ctx)
			purge.Reset(untilNextPurge(time.Now()))
		}
	}
}

func (s *Service) refreshGauges(ctx context.Context) {
	if depth, err := s.store.CountByStatus(ctx, model.StatusPending); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	stuck, err := s.store.CountStuckProcessing(ctx, stuckThreshold)
	if err != nil {
		return
	}
	metrics.StuckCommands.Set(float64(stuck))
	if stuck > 0 {
		s.logger.Warn().
			Str("event", "cmdq.stuck_commands").
			Int("count", stuck).
			Msg("commands stuck in processing")
	}
}

func (s *Service) purge(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	n, err := s.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Str("event", "cmdq.purge_failed").Msg("retention purge failed")
		return
	}
	s.logger.Info().
		Str("event", "cmdq.purged").
		Int64("removed", n).
		Time("cutoff", cutoff).
		Msg("retention purge finished")
}

// untilNextPurge computes the wait to the next daily purge slot (03:00
// local time).
func untilNextPurge(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), purgeHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// RequeueStuck is the operator recovery tool for crashed-worker residue.
func (s *Service) RequeueStuck(ctx context.Context) (int64, error) {
	return s.store.RequeueStuck(ctx, stuckThreshold)
}
