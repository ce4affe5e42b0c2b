// SPDX-License-Identifier: MIT

// Package discovery surfaces candidate devices from two independent sources,
// an mDNS listener and an active subnet scanner, scores them and publishes
// them into the candidate inventory.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/smartvenue/venued/internal/config"
	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// CapabilityProbe is invoked asynchronously when a new IR controller
// hostname first appears. Failures are the probe's own problem; discovery
// never blocks on it.
type CapabilityProbe func(ctx context.Context, hostname, ip string)

// Service wires the two discovery sources through scoring into the store.
type Service struct {
	store  *store.Store
	cfg    config.DiscoveryConfig
	probe  CapabilityProbe
	logger zerolog.Logger
}

// New builds the discovery service. probe may be nil.
func New(st *store.Store, cfg config.DiscoveryConfig, probe CapabilityProbe) *Service {
	return &Service{
		store:  st,
		cfg:    cfg,
		probe:  probe,
		logger: log.WithComponent("discovery"),
	}
}

// Run starts the configured sources and blocks until the context is
// cancelled. With no subnet and mDNS disabled there is nothing to do.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if !s.cfg.MDNSDisabled {
		listener := NewMDNSListener(s.cfg.MDNSService, s.handleObservation)
		g.Go(func() error { return listener.Run(ctx) })
	}
	if s.cfg.Subnet != "" {
		scanner, err := NewScanner(s.cfg.Subnet, s.cfg.ScanInterval, s.cfg.ScanConcurrency, s.handleObservation)
		if err != nil {
			return err
		}
		g.Go(func() error { return scanner.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleObservation scores a sighting and upserts the candidate. mDNS
// observations missing a full MAC get one chance at ARP resolution.
func (s *Service) handleObservation(ctx context.Context, obs Observation) {
	if obs.MAC == "" {
		arp, err := readARPTable("")
		if err == nil {
			resolveMAC(&obs, arp, s.logger)
		}
	}
	if obs.MAC == "" {
		s.logger.Debug().
			Str("event", "discovery.mac_unresolved").
			Str("hostname", obs.Hostname).
			Str("ip", obs.IP).
			Msg("dropping observation without MAC")
		return
	}
	if obs.Vendor == "" {
		obs.Vendor = VendorForMAC(obs.MAC)
	}

	res := Score(ScoreInput{
		Vendor:          obs.Vendor,
		Hostname:        obs.Hostname,
		OpenPorts:       obs.OpenPorts,
		DeviceTypeGuess: obs.TypeGuess,
	})
	if obs.TypeGuess == "ir_blaster" {
		// IR controllers follow the hostname convention and speak the native
		// API; the TV rule table does not apply to them.
		res.Confidence = 95
		res.Adoptable = model.AdoptableReady
		res.Reasons = []string{"ir controller hostname convention"}
	}

	isNew := false
	if _, err := s.store.GetCandidate(ctx, obs.MAC); errors.Is(err, store.ErrNotFound) {
		isNew = true
	}

	err := s.store.UpsertCandidate(ctx, model.CandidateDevice{
		MACAddress:      obs.MAC,
		IPAddress:       obs.IP,
		Hostname:        obs.Hostname,
		Vendor:          obs.Vendor,
		DeviceTypeGuess: res.TypeGuess,
		OpenPorts:       obs.OpenPorts,
		Confidence:      res.Confidence,
		Adoptable:       res.Adoptable,
		Reasons:         res.Reasons,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("event", "discovery.upsert_failed").
			Str("mac", obs.MAC).
			Msg("cannot persist candidate")
		return
	}

	s.logger.Info().
		Str("event", "discovery.candidate").
		Str("source", obs.Source).
		Str("mac", obs.MAC).
		Str("hostname", obs.Hostname).
		Int("confidence", res.Confidence).
		Str("adoptable", string(res.Adoptable)).
		Msg("candidate observed")

	if isNew && obs.TypeGuess == "ir_blaster" && s.probe != nil {
		go func() {
			probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			s.probe(probeCtx, obs.Hostname, obs.IP)
		}()
	}
}
