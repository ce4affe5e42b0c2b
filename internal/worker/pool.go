// SPDX-License-Identifier: MIT

// Package worker drains the command queue through the protocol router with a
// fixed-size pool.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/metrics"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol"
	"github.com/smartvenue/venued/internal/store"
)

// Dispatcher carries a command to its device. Satisfied by the protocol
// router; tests substitute fakes.
type Dispatcher interface {
	Execute(ctx context.Context, cmd model.Command) error
}

// Pool is the fixed-size worker pool. Workers share no mutable state; each
// cycle is one claim, one execution, one terminal store write.
type Pool struct {
	store        *store.Store
	dispatcher   Dispatcher
	workers      int
	pollInterval time.Duration
	logger       zerolog.Logger
}

func NewPool(st *store.Store, d Dispatcher, workers int, pollInterval time.Duration) *Pool {
	if workers <= 0 {
		workers = 3
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Pool{
		store:        st,
		dispatcher:   d,
		workers:      workers,
		pollInterval: pollInterval,
		logger:       log.WithComponent("worker"),
	}
}

// Run blocks until the context is cancelled. Shutdown is cooperative: an
// in-flight command finishes or times out, no new claims happen after the
// signal.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().
		Str("event", "worker.started").
		Int("workers", p.workers).
		Dur("poll_interval", p.pollInterval).
		Msg("worker pool started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error { return p.run(ctx, worker) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) run(ctx context.Context, worker int) error {
	logger := p.logger.With().Int("worker", worker).Logger()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id, ok, err := p.store.ClaimNext(ctx)
		if err != nil {
			logger.Error().Err(err).Str("event", "worker.claim_failed").Msg("claim failed")
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
			continue
		}
		p.process(ctx, logger, id)
	}
}

// process runs one claimed command to a terminal state. Store writes use a
// context that survives shutdown so a finished execution is never lost.
func (p *Pool) process(ctx context.Context, logger zerolog.Logger, id int64) {
	cmd, err := p.store.GetCommand(ctx, id)
	if err != nil {
		logger.Error().Err(err).Int64("command_id", id).Str("event", "worker.load_failed").Msg("cannot load claimed command")
		return
	}

	start := time.Now()
	execErr := p.dispatcher.Execute(ctx, cmd)
	elapsed := time.Since(start)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if execErr == nil {
		if err := p.store.MarkCompleted(finishCtx, id, elapsed.Milliseconds()); err != nil {
			logger.Error().Err(err).Int64("command_id", id).Str("event", "worker.finalize_failed").Msg("cannot mark completed")
			return
		}
		metrics.ObserveCommand(string(cmd.Class), "completed", routeLabel(cmd), elapsed)
		logger.Debug().
			Int64("command_id", id).
			Str("controller_id", cmd.ControllerID).
			Str("kind", string(cmd.Kind)).
			Dur("elapsed", elapsed).
			Str("event", "worker.completed").
			Msg("command completed")
		return
	}

	retry := cmd.Class != model.ClassImmediate && protocol.Retriable(execErr)
	if err := p.store.MarkFailed(finishCtx, id, execErr.Error(), retry); err != nil {
		logger.Error().Err(err).Int64("command_id", id).Str("event", "worker.finalize_failed").Msg("cannot mark failed")
		return
	}
	metrics.ObserveCommand(string(cmd.Class), "failed", routeLabel(cmd), elapsed)
	logger.Warn().
		Err(execErr).
		Int64("command_id", id).
		Str("controller_id", cmd.ControllerID).
		Str("kind", string(cmd.Kind)).
		Bool("retry", retry).
		Int("attempts", cmd.Attempts).
		Str("event", "worker.failed").
		Msg("command failed")
}

// routeLabel derives the metric protocol label from the controller id
// prefix when the command has no protocol context of its own.
func routeLabel(cmd model.Command) string {
	for i, r := range cmd.ControllerID {
		if r == '-' {
			return cmd.ControllerID[:i]
		}
	}
	return cmd.ControllerID
}
