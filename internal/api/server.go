// SPDX-License-Identifier: MIT

// Package api is the thin HTTP shell over the orchestration services.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/adoption"
	"github.com/smartvenue/venued/internal/cmdq"
	"github.com/smartvenue/venued/internal/health"
	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/scheduler"
	"github.com/smartvenue/venued/internal/store"
)

// enqueueRateLimit caps command submissions per client IP. Bulk producers
// use the batch endpoint, which counts as one request.
const (
	enqueueRateLimit  = 60
	enqueueRateWindow = time.Minute
)

// Server wires the HTTP contract to the services. It owns no business
// logic; every handler is a translation layer.
type Server struct {
	store     *store.Store
	queue     *cmdq.Service
	adoption  *adoption.Service
	scheduler *scheduler.Scheduler
	health    *health.Manager
	logger    zerolog.Logger

	addr string
}

func New(addr string, st *store.Store, queue *cmdq.Service, adopt *adoption.Service, sched *scheduler.Scheduler, hm *health.Manager) *Server {
	return &Server{
		store:     st,
		queue:     queue,
		adoption:  adopt,
		scheduler: sched,
		health:    hm,
		logger:    log.WithComponent("api"),
		addr:      addr,
	}
}

// Routes builds the router. Exposed separately from Run for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/candidates", s.listCandidates)
		r.Post("/candidates/{mac}/adopt", s.adoptCandidate)
		r.Post("/candidates/{mac}/adopt/begin", s.beginAdopt)
		r.Post("/adoptions/{session}/complete", s.completeAdopt)
		r.Post("/candidates/{mac}/hide", s.setHidden(true))
		r.Post("/candidates/{mac}/unhide", s.setHidden(false))

		r.Get("/controllers", s.listControllers)
		r.Get("/controllers/{id}", s.getController)
		r.Delete("/controllers/{id}", s.unadoptController)
		r.Get("/controllers/{id}/status", s.getStatus)
		r.Get("/controllers/{id}/ports", s.listPorts)
		r.Put("/controllers/{id}/ports/{port}", s.updatePort)
		r.Get("/controllers/{id}/history", s.listHistory)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(enqueueRateLimit, enqueueRateWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
			r.Post("/commands", s.enqueueCommand)
			r.Post("/commands/batch", s.enqueueBatch)
		})
		r.Get("/commands/{id}", s.getCommand)
		r.Get("/batches/{id}", s.getBatch)
		r.Post("/queue/requeue-stuck", s.requeueStuck)

		r.Get("/schedules", s.listSchedules)
		r.Post("/schedules", s.createSchedule)
		r.Get("/schedules/{id}", s.getSchedule)
		r.Put("/schedules/{id}", s.updateSchedule)
		r.Delete("/schedules/{id}", s.deleteSchedule)
		r.Get("/schedules/{id}/executions", s.listExecutions)

		r.Get("/tags", s.listTags)
		r.Post("/tags", s.createTag)
		r.Delete("/tags/{id}", s.deleteTag)
	})
	return r
}

// Run serves until the context ends, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info().Str("event", "api.started").Str("addr", s.addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}
