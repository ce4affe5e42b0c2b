// SPDX-License-Identifier: MIT

// Package daemon supervises the long-running task families and owns the
// shutdown order.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smartvenue/venued/internal/log"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownHook runs cleanup during graceful shutdown. Hooks execute in
// reverse registration order (LIFO), after every task has returned.
type ShutdownHook func(ctx context.Context) error

type namedTask struct {
	name string
	run  func(ctx context.Context) error
}

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs registered tasks until the context ends or a task fails,
// then drains the rest and executes shutdown hooks.
type Manager struct {
	tasks []namedTask
	hooks []namedHook

	shutdownTimeout time.Duration
	logger          zerolog.Logger

	mu      sync.Mutex
	started bool
}

func NewManager() *Manager {
	return &Manager{
		shutdownTimeout: defaultShutdownTimeout,
		logger:          log.WithComponent("daemon"),
	}
}

// Add registers a task family. Tasks start in registration order; a clean
// context-cancelled return is not treated as a failure.
func (m *Manager) Add(name string, run func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, namedTask{name: name, run: run})
}

// RegisterShutdownHook registers cleanup to run after all tasks stop.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Run blocks until the context ends or a task fails. Either way every
// other task is cancelled, drained, and the hooks run with a bounded
// detached context so a cancelled parent cannot skip cleanup.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	tasks := m.tasks
	m.mu.Unlock()

	m.logger.Info().
		Str("event", "daemon.starting").
		Int("tasks", len(tasks)).
		Msg("starting task families")

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			m.logger.Debug().Str("task", t.name).Msg("task started")
			err := t.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error().Err(err).
					Str("event", "daemon.task_failed").
					Str("task", t.name).
					Msg("task exited with error")
				return fmt.Errorf("task %s: %w", t.name, err)
			}
			m.logger.Debug().Str("task", t.name).Msg("task stopped")
			return nil
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()
	if hookErr := m.runHooks(shutdownCtx); hookErr != nil {
		runErr = errors.Join(runErr, hookErr)
	}

	if runErr != nil {
		return runErr
	}
	m.logger.Info().Str("event", "daemon.stopped").Msg("daemon stopped cleanly")
	return nil
}

func (m *Manager) runHooks(ctx context.Context) error {
	m.mu.Lock()
	hooks := m.hooks
	m.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().Err(err).
				Str("event", "daemon.hook_failed").
				Str("hook", h.name).
				Dur("elapsed", time.Since(start)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("elapsed", time.Since(start)).
			Msg("shutdown hook completed")
	}
	return errors.Join(errs...)
}
