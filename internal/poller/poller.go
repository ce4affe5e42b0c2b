// SPDX-License-Identifier: MIT

// Package poller maintains the per-controller status cache with tiered
// background polling.
package poller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/smartvenue/venued/internal/config"
	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/metrics"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// offlineThreshold is the consecutive-failure count that flips a controller
// offline.
const offlineThreshold = 3

// tier1 protocols have cheap fine-grained state APIs; tier2 need full HTTP
// round trips. Everything else gets a liveness ping only.
var (
	tier1 = []model.Protocol{model.ProtocolLGWebOS, model.ProtocolRoku, model.ProtocolHisenseVidaa}
	tier2 = []model.Protocol{model.ProtocolSonyBravia, model.ProtocolVizioSmartcast, model.ProtocolPhilipsJointspace}
)

// Prober runs a protocol status probe. Satisfied by the router.
type Prober interface {
	Probe(ctx context.Context, controllerID string) (model.DeviceStatus, bool, error)
}

// Poller drives the two polling tiers plus the ping-only liveness tier.
type Poller struct {
	store  *store.Store
	prober Prober
	cfg    config.PollerConfig
	logger zerolog.Logger

	// pingFunc is swappable for tests.
	pingFunc func(ctx context.Context, ip string) error
}

func New(st *store.Store, prober Prober, cfg config.PollerConfig) *Poller {
	if cfg.Tier1Interval <= 0 {
		cfg.Tier1Interval = 3 * time.Second
	}
	if cfg.Tier2Interval <= 0 {
		cfg.Tier2Interval = 5 * time.Second
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 10
	}
	return &Poller{
		store:    st,
		prober:   prober,
		cfg:      cfg,
		logger:   log.WithComponent("poller"),
		pingFunc: pingHost,
	}
}

// Run starts one goroutine per tier and blocks until cancellation.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runTier(ctx, "tier1", p.cfg.Tier1Interval, tier1, true) })
	g.Go(func() error { return p.runTier(ctx, "tier2", p.cfg.Tier2Interval, tier2, true) })
	// liveness tier reuses the slower cadence
	g.Go(func() error { return p.runTier(ctx, "liveness", p.cfg.Tier2Interval, nil, false) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runTier polls its controller set on the tier cadence. A round that
// overruns the interval is cancelled with it. probe=false selects the
// ping-only controllers instead of a protocol list.
func (p *Poller) runTier(ctx context.Context, name string, interval time.Duration, protocols []model.Protocol, probe bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			roundCtx, cancel := context.WithTimeout(ctx, interval)
			p.pollRound(roundCtx, name, protocols, probe)
			cancel()
		}
	}
}

// pollRound fans out over the tier's controllers, bounded by the fan-out
// semaphore.
func (p *Poller) pollRound(ctx context.Context, tier string, protocols []model.Protocol, probe bool) {
	controllers, err := p.store.ListControllers(ctx, store.ControllerFilter{})
	if err != nil {
		p.logger.Error().Err(err).Str("event", "poller.list_failed").Msg("cannot list controllers")
		return
	}

	sem := semaphore.NewWeighted(int64(p.cfg.FanOut))
	online := 0
	for _, ctrl := range controllers {
		if ctrl.IsOnline {
			online++
		}
		if !p.inTier(ctrl, protocols, probe) {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		ctrl := ctrl
		go func() {
			defer sem.Release(1)
			if probe {
				p.pollOne(ctx, ctrl)
			} else {
				p.pingOne(ctx, ctrl)
			}
		}()
	}
	if tier == "liveness" {
		metrics.ControllersOnline.Set(float64(online))
	}
	// wait for the round's probes inside the round deadline
	_ = sem.Acquire(ctx, int64(p.cfg.FanOut))
}

// inTier decides tier membership. Samsung legacy and devices flagged
// status-unavailable live in the ping tier; IR blasters and audio gear too.
func (p *Poller) inTier(ctrl model.ManagedController, protocols []model.Protocol, probe bool) bool {
	statusAvailable := statusCapable(ctrl)
	if !probe {
		return !statusAvailable
	}
	if !statusAvailable {
		return false
	}
	for _, proto := range protocols {
		if ctrl.Protocol == proto {
			return true
		}
	}
	return false
}

// statusCapable reports whether a controller's protocol can answer a state
// probe at all.
func statusCapable(ctrl model.ManagedController) bool {
	if avail, ok := ctrl.Capabilities["status_available"].(bool); ok && !avail {
		return false
	}
	switch ctrl.Protocol {
	case model.ProtocolLGWebOS, model.ProtocolRoku, model.ProtocolHisenseVidaa,
		model.ProtocolSonyBravia, model.ProtocolVizioSmartcast, model.ProtocolPhilipsJointspace:
		return true
	}
	return false
}

// pollOne runs one status probe and applies the cache bookkeeping.
func (p *Poller) pollOne(ctx context.Context, ctrl model.ManagedController) {
	ds, capable, err := p.prober.Probe(ctx, ctrl.ControllerID)
	if err == nil && !capable {
		return
	}
	if err != nil {
		p.recordFailure(ctx, ctrl, err)
		return
	}
	if err := p.store.UpdateStatusCache(ctx, ctrl.ControllerID, ds); err != nil {
		p.logger.Error().Err(err).
			Str("controller_id", ctrl.ControllerID).
			Str("event", "poller.cache_write_failed").
			Msg("cannot update status cache")
		return
	}
	if !ctrl.IsOnline {
		_ = p.store.SetControllerOnline(ctx, ctrl.ControllerID, true)
	}
}

// pingOne checks liveness only; cache state carries just online/offline.
func (p *Poller) pingOne(ctx context.Context, ctrl model.ManagedController) {
	if err := p.pingFunc(ctx, ctrl.IPAddress); err != nil {
		p.recordFailure(ctx, ctrl, err)
		return
	}
	if err := p.store.UpdateStatusCache(ctx, ctrl.ControllerID, model.DeviceStatus{
		PowerState:  model.PowerUnknown,
		CheckMethod: "ping",
	}); err != nil {
		return
	}
	if !ctrl.IsOnline {
		_ = p.store.SetControllerOnline(ctx, ctrl.ControllerID, true)
	}
}

// recordFailure bumps the consecutive-failure counter and flips the
// controller offline at the threshold.
func (p *Poller) recordFailure(ctx context.Context, ctrl model.ManagedController, cause error) {
	metrics.PollFailures.WithLabelValues(string(ctrl.Protocol)).Inc()
	failures, err := p.store.RecordPollFailure(ctx, ctrl.ControllerID)
	if err != nil {
		return
	}
	if failures < offlineThreshold {
		return
	}
	if err := p.store.MarkStatusOffline(ctx, ctrl.ControllerID); err != nil {
		return
	}
	_ = p.store.SetControllerOnline(ctx, ctrl.ControllerID, false)
	if failures == offlineThreshold {
		p.logger.Warn().
			Str("controller_id", ctrl.ControllerID).
			Str("event", "poller.offline").
			AnErr("cause", cause).
			Msg("controller marked offline")
	}
}

// pingHost sends one unprivileged UDP echo, falling back to a TCP touch of
// the echo port when ICMP sockets are unavailable.
func pingHost(ctx context.Context, ip string) error {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return fmt.Errorf("pinger: %w", err)
	}
	pinger.Count = 1
	pinger.SetPrivileged(false)
	if deadline, ok := ctx.Deadline(); ok {
		pinger.Timeout = time.Until(deadline)
	} else {
		pinger.Timeout = 2 * time.Second
	}

	if err := pinger.RunWithContext(ctx); err == nil && pinger.Statistics().PacketsRecv > 0 {
		return nil
	}

	// some venue networks filter echo; a TCP connect to any port that
	// answers (even with RST) still proves the host is up
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, "7"))
	if err == nil {
		_ = conn.Close()
		return nil
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Timeout() {
		// refused means a live host
		return nil
	}
	return fmt.Errorf("host %s unreachable", ip)
}
