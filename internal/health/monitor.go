// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/config"
	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/espapi"
	"github.com/smartvenue/venued/internal/store"
)

// deviceInfoDeadline bounds the primary reachability call per controller.
const deviceInfoDeadline = 10 * time.Second

// sweepProbeDeadline bounds each probe of the neighbour sweep. The sweep
// visits up to 20 addresses, so individual probes stay short.
const sweepProbeDeadline = 2 * time.Second

// sweepRadius is how far around the last known IP the recovery sweep looks.
const sweepRadius = 10

// interBatchPause throttles consecutive check batches.
const interBatchPause = time.Second

// Invalidator drops a cached executor after an address move.
type Invalidator interface {
	Invalidate(controllerID string)
}

// Monitor tracks IR controllers across DHCP address changes. TVs and
// amplifiers are covered by the status pollers; IR blasters expose no
// polled state, so the monitor owns their liveness and address identity.
type Monitor struct {
	store  *store.Store
	router Invalidator
	cfg    config.HealthConfig
	logger zerolog.Logger

	// probe is swappable for tests.
	probe func(ctx context.Context, ip string) (espapi.DeviceInfo, error)
}

func NewMonitor(st *store.Store, router Invalidator, cfg config.HealthConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}
	return &Monitor{
		store:  st,
		router: router,
		cfg:    cfg,
		logger: log.WithComponent("health"),
		probe:  probeDeviceInfo,
	}
}

// Run executes one check cycle per interval until cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle checks every IR controller in bounded batches.
func (m *Monitor) cycle(ctx context.Context) {
	controllers, err := m.store.ListControllers(ctx, store.ControllerFilter{Type: model.ControllerIRBlaster})
	if err != nil {
		m.logger.Error().Err(err).Str("event", "health.list_failed").Msg("cannot list controllers")
		return
	}

	for start := 0; start < len(controllers); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(controllers) {
			end = len(controllers)
		}
		var wg sync.WaitGroup
		for _, ctrl := range controllers[start:end] {
			ctrl := ctrl
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.checkOne(ctx, ctrl)
			}()
		}
		wg.Wait()
		if end < len(controllers) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interBatchPause):
			}
		}
	}
}

// checkOne walks the recovery ladder: last known IP, the freshest discovery
// address for the MAC, then a neighbour sweep matched by MAC.
func (m *Monitor) checkOne(ctx context.Context, ctrl model.ManagedController) {
	if info, err := m.probeAt(ctx, ctrl.IPAddress, deviceInfoDeadline); err == nil {
		m.reconcile(ctx, ctrl, ctrl.IPAddress, info)
		return
	}

	if cand, err := m.store.GetCandidate(ctx, ctrl.MACAddress); err == nil &&
		cand.IPAddress != "" && cand.IPAddress != ctrl.IPAddress {
		if info, err := m.probeAt(ctx, cand.IPAddress, deviceInfoDeadline); err == nil && m.macMatches(ctrl, info) {
			m.reconcile(ctx, ctrl, cand.IPAddress, info)
			return
		}
	}

	for _, ip := range neighborIPs(ctrl.IPAddress, sweepRadius) {
		if ctx.Err() != nil {
			return
		}
		info, err := m.probeAt(ctx, ip, sweepProbeDeadline)
		if err != nil || !m.macMatches(ctrl, info) {
			continue
		}
		m.reconcile(ctx, ctrl, ip, info)
		return
	}

	if err := m.store.SetControllerOnline(ctx, ctrl.ControllerID, false); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().Err(err).Str("controller_id", ctrl.ControllerID).
			Str("event", "health.offline_write_failed").Msg("cannot mark controller offline")
	}
	m.logger.Warn().
		Str("controller_id", ctrl.ControllerID).
		Str("ip", ctrl.IPAddress).
		Str("event", "health.unreachable").
		Msg("controller unreachable on all known addresses")
}

func (m *Monitor) probeAt(ctx context.Context, ip string, deadline time.Duration) (espapi.DeviceInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return m.probe(probeCtx, ip)
}

func (m *Monitor) macMatches(ctrl model.ManagedController, info espapi.DeviceInfo) bool {
	mac, err := model.CanonicalMAC(info.MACAddress)
	if err != nil {
		return false
	}
	return mac == ctrl.MACAddress
}

// reconcile lands a successful reach: address move, identity refresh and
// executor invalidation when the IP changed.
func (m *Monitor) reconcile(ctx context.Context, ctrl model.ManagedController, ip string, info espapi.DeviceInfo) {
	moved := ip != ctrl.IPAddress
	if moved {
		mac, _ := model.CanonicalMAC(info.MACAddress)
		if err := m.store.ReconcileControllerNetwork(ctx, ctrl.ControllerID, ip, mac); err != nil {
			m.logger.Error().Err(err).Str("controller_id", ctrl.ControllerID).
				Str("event", "health.reconcile_failed").Msg("cannot record address move")
			return
		}
		if m.router != nil {
			m.router.Invalidate(ctrl.ControllerID)
		}
		m.logger.Info().
			Str("controller_id", ctrl.ControllerID).
			Str("old_ip", ctrl.IPAddress).
			Str("new_ip", ip).
			Str("event", "health.address_moved").
			Msg("controller moved to a new address")
	} else if err := m.store.SetControllerOnline(ctx, ctrl.ControllerID, true); err != nil {
		m.logger.Error().Err(err).Str("controller_id", ctrl.ControllerID).
			Str("event", "health.online_write_failed").Msg("cannot mark controller online")
		return
	}

	caps := make(map[string]any, len(ctrl.Capabilities)+2)
	for k, v := range ctrl.Capabilities {
		caps[k] = v
	}
	if info.ESPHomeVersion != "" {
		caps["firmware"] = info.ESPHomeVersion
	}
	if info.Model != "" {
		caps["model"] = info.Model
	}
	if err := m.store.UpdateControllerCapabilities(ctx, ctrl.ControllerID, caps); err != nil {
		m.logger.Error().Err(err).Str("controller_id", ctrl.ControllerID).
			Str("event", "health.caps_refresh_failed").Msg("cannot refresh capability snapshot")
	}
}

// neighborIPs lists addresses around ip, nearest first, alternating above
// and below. Only IPv4 is swept.
func neighborIPs(ip string, radius int) []string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return nil
	}
	out := make([]string, 0, radius*2)
	up, down := addr, addr
	for i := 0; i < radius; i++ {
		up = up.Next()
		if up.IsValid() && up.Is4() {
			out = append(out, up.String())
		}
		down = down.Prev()
		if down.IsValid() && down.Is4() {
			out = append(out, down.String())
		}
	}
	return out
}

func probeDeviceInfo(ctx context.Context, ip string) (espapi.DeviceInfo, error) {
	client := espapi.New(ip, "")
	if err := client.Connect(ctx); err != nil {
		return espapi.DeviceInfo{}, err
	}
	defer func() { _ = client.Close() }()
	return client.DeviceInfo(ctx)
}
