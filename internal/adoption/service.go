// SPDX-License-Identifier: MIT

// Package adoption promotes discovered candidates into managed controllers.
package adoption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/espapi"
	"github.com/smartvenue/venued/internal/protocol/ocp1"
	"github.com/smartvenue/venued/internal/protocol/plena"
	"github.com/smartvenue/venued/internal/store"
)

var (
	// ErrAlreadyAdopted means the candidate already backs a controller.
	ErrAlreadyAdopted = errors.New("candidate already adopted")
	// ErrProtocolProbeFailed means no control protocol could be confirmed.
	ErrProtocolProbeFailed = errors.New("protocol probe failed")
	// ErrCapabilityFetchFailed means the device answered but its capability
	// payload could not be read. The controller is still created.
	ErrCapabilityFetchFailed = errors.New("capability fetch failed")
	// ErrUniqueIDCollision means no free controller id could be generated.
	ErrUniqueIDCollision = errors.New("controller id collision")
)

// capabilityDeadline bounds the IR capability fetch.
const capabilityDeadline = 5 * time.Second

// maxIDAttempts bounds the suffix-counter id fallback.
const maxIDAttempts = 10

// irGPIOByPort is the fixed pin assignment of the five-output IR hardware.
var irGPIOByPort = map[int]string{1: "GPIO13", 2: "GPIO15", 3: "GPIO12", 4: "GPIO16", 5: "GPIO5"}

// Invalidator drops a cached executor. Satisfied by the protocol router.
type Invalidator interface {
	Invalidate(controllerID string)
}

// Service runs the adoption and unadoption flows.
type Service struct {
	store   *store.Store
	router  Invalidator
	logger  zerolog.Logger
	pending pendingSessions

	// device probes, swappable for tests
	probeSamsung  func(ctx context.Context, ip string) (model.Protocol, string, error)
	fetchIRCaps   func(ctx context.Context, ip string) (espapi.DeviceInfo, espapi.Capabilities, error)
	discoverAES70 func(ctx context.Context, ip string) ([]ocp1.Zone, error)
	discoverPlena func(ctx context.Context, ip string) (plena.DeviceInfo, plena.ZoneNames, error)
}

func New(st *store.Store, router Invalidator) *Service {
	return &Service{
		store:         st,
		router:        router,
		logger:        log.WithComponent("adoption"),
		probeSamsung:  probeSamsung,
		fetchIRCaps:   fetchIRCaps,
		discoverAES70: discoverAES70,
		discoverPlena: discoverPlena,
	}
}

// Adopt promotes the candidate behind mac into a managed controller. The
// protocol probe runs before the single adoption transaction; a probe
// failure leaves the candidate untouched.
func (s *Service) Adopt(ctx context.Context, mac, name string) (model.ManagedController, error) {
	var zero model.ManagedController
	canonical, err := model.CanonicalMAC(mac)
	if err != nil {
		return zero, fmt.Errorf("adopt: %w", err)
	}
	cand, err := s.store.GetCandidate(ctx, canonical)
	if err != nil {
		return zero, err
	}
	if cand.IsAdopted {
		return zero, fmt.Errorf("candidate %s: %w", canonical, ErrAlreadyAdopted)
	}

	plan, err := s.plan(ctx, cand)
	if err != nil {
		return zero, err
	}

	controllerID, err := s.generateID(ctx, plan.idBase)
	if err != nil {
		return zero, err
	}

	ctrl := model.ManagedController{
		ControllerID:   controllerID,
		ControllerType: plan.controllerType,
		Protocol:       plan.protocol,
		IPAddress:      cand.IPAddress,
		MACAddress:     canonical,
		Location:       name,
		TotalPorts:     len(plan.ports),
		Capabilities:   plan.capabilities,
	}
	for i := range plan.ports {
		plan.ports[i].ControllerID = controllerID
	}
	if err := s.store.CreateAdoption(ctx, ctrl, plan.ports); err != nil {
		return zero, fmt.Errorf("adopt %s: %w", controllerID, err)
	}

	// IR capability snapshots commit after the adoption transaction so a
	// slow device never holds the write lock.
	if plan.deferredCaps != nil {
		if err := s.store.UpdateControllerCapabilities(ctx, controllerID, plan.deferredCaps); err != nil {
			s.logger.Error().Err(err).
				Str("controller_id", controllerID).
				Str("event", "adoption.caps_commit_failed").
				Msg("cannot store capability snapshot")
		}
	}

	s.logger.Info().
		Str("event", "adoption.adopted").
		Str("controller_id", controllerID).
		Str("mac", canonical).
		Str("type", string(plan.controllerType)).
		Str("protocol", string(plan.protocol)).
		Int("ports", len(plan.ports)).
		Msg("candidate adopted")
	return s.store.GetController(ctx, controllerID)
}

// Unadopt deletes a controller, frees its candidate and drops the cached
// executor.
func (s *Service) Unadopt(ctx context.Context, controllerID string) error {
	if err := s.store.DeleteController(ctx, controllerID); err != nil {
		return err
	}
	if s.router != nil {
		s.router.Invalidate(controllerID)
	}
	s.logger.Info().
		Str("event", "adoption.unadopted").
		Str("controller_id", controllerID).
		Msg("controller unadopted")
	return nil
}

// adoptionPlan is the probe outcome feeding the adoption transaction.
type adoptionPlan struct {
	controllerType model.ControllerType
	protocol       model.Protocol
	idBase         string
	ports          []model.Port
	capabilities   map[string]any
	// deferredCaps commits after the transaction (slow IR fetch)
	deferredCaps map[string]any
}

// plan classifies the candidate and runs the protocol-specific probe.
func (s *Service) plan(ctx context.Context, cand model.CandidateDevice) (adoptionPlan, error) {
	var plan adoptionPlan
	suffix := model.MACSuffix(cand.MACAddress)

	switch {
	case model.IsIRHostname(cand.Hostname):
		return s.planIR(ctx, cand, suffix)

	case hasPort(cand.OpenPorts, ocp1.DefaultPort):
		return s.planAES70(ctx, cand)

	case cand.DeviceTypeGuess == "audio_amp" || strings.Contains(strings.ToLower(cand.Vendor), "bosch"):
		return s.planPlena(ctx, cand)

	case isSamsung(cand):
		proto, token, err := s.probeSamsung(ctx, cand.IPAddress)
		if err != nil {
			return plan, fmt.Errorf("samsung %s: %w: %w", cand.IPAddress, ErrProtocolProbeFailed, err)
		}
		cfg := map[string]any{}
		caps := map[string]any{"token_support": token != ""}
		if token != "" {
			cfg["auth_token"] = token
		}
		return adoptionPlan{
			controllerType: model.ControllerNetworkTV,
			protocol:       proto,
			idBase:         "nw-" + suffix,
			ports:          []model.Port{virtualPort(cand, cfg)},
			capabilities:   caps,
		}, nil
	}

	proto := protocolFromPorts(cand.OpenPorts)
	if proto == "" {
		return plan, fmt.Errorf("candidate %s has no identified protocol: %w", cand.MACAddress, ErrProtocolProbeFailed)
	}
	ctype := model.ControllerNetworkTV
	if proto == model.ProtocolRoku || proto == model.ProtocolVizioSmartcast {
		ctype = model.ControllerStreamingDevice
	}
	return adoptionPlan{
		controllerType: ctype,
		protocol:       proto,
		idBase:         "nw-" + suffix,
		ports:          []model.Port{virtualPort(cand, map[string]any{})},
		capabilities:   map[string]any{},
	}, nil
}

func (s *Service) planIR(ctx context.Context, cand model.CandidateDevice, suffix string) (adoptionPlan, error) {
	ports := make([]model.Port, 0, len(irGPIOByPort))
	for n := 1; n <= len(irGPIOByPort); n++ {
		ports = append(ports, model.Port{
			PortNumber:       n,
			IsActive:         true,
			ConnectionConfig: map[string]any{"gpio": irGPIOByPort[n]},
		})
	}
	plan := adoptionPlan{
		controllerType: model.ControllerIRBlaster,
		idBase:         "ir-" + suffix,
		ports:          ports,
		capabilities:   map[string]any{"status_available": false},
	}

	capCtx, cancel := context.WithTimeout(ctx, capabilityDeadline)
	defer cancel()
	info, caps, err := s.fetchIRCaps(capCtx, cand.IPAddress)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("mac", cand.MACAddress).
			Str("ip", cand.IPAddress).
			Str("event", "adoption.caps_fetch_failed").
			Msgf("%v, adopting without snapshot", ErrCapabilityFetchFailed)
		return plan, nil
	}
	plan.deferredCaps = irCapabilitySnapshot(info, caps)
	return plan, nil
}

func (s *Service) planAES70(ctx context.Context, cand model.CandidateDevice) (adoptionPlan, error) {
	var plan adoptionPlan
	zones, err := s.discoverAES70(ctx, cand.IPAddress)
	if err != nil {
		return plan, fmt.Errorf("aes70 %s: %w: %w", cand.IPAddress, ErrProtocolProbeFailed, err)
	}
	if len(zones) == 0 {
		return plan, fmt.Errorf("aes70 %s: no zones in role map: %w", cand.IPAddress, ErrProtocolProbeFailed)
	}
	ports := make([]model.Port, 0, len(zones))
	for i, z := range zones {
		ports = append(ports, model.Port{
			PortNumber:          i + 1,
			ConnectedDeviceName: z.Name,
			IsActive:            true,
			ConnectionConfig: map[string]any{
				"gain_ono": int(z.GainONo),
				"mute_ono": int(z.MuteONo),
				"gain_min": z.GainMin,
				"gain_max": z.GainMax,
			},
		})
	}
	return adoptionPlan{
		controllerType: model.ControllerAudio,
		protocol:       model.ProtocolBoschAES70,
		idBase:         "aud-" + vendorToken(cand.Vendor) + "-" + ipToken(cand.IPAddress),
		ports:          ports,
		capabilities:   map[string]any{"status_available": false, "zones": len(zones)},
	}, nil
}

func (s *Service) planPlena(ctx context.Context, cand model.CandidateDevice) (adoptionPlan, error) {
	var plan adoptionPlan
	info, names, err := s.discoverPlena(ctx, cand.IPAddress)
	if err != nil {
		return plan, fmt.Errorf("plena %s: %w: %w", cand.IPAddress, ErrProtocolProbeFailed, err)
	}
	ports := make([]model.Port, 0, len(names.Outputs))
	for i, zone := range names.Outputs {
		ports = append(ports, model.Port{
			PortNumber:          i + 1,
			ConnectedDeviceName: zone,
			IsActive:            true,
			ConnectionConfig:    map[string]any{"zone": i + 1},
		})
	}
	return adoptionPlan{
		controllerType: model.ControllerAudio,
		protocol:       model.ProtocolBoschPlenaMatrix,
		idBase:         "plm-" + ipToken(cand.IPAddress),
		ports:          ports,
		capabilities: map[string]any{
			"status_available": false,
			"model":            info.Model,
			"firmware":         info.Firmware,
			"device_name":      info.DeviceName,
		},
	}, nil
}

// generateID returns base when free, else base-2, base-3 and so on.
func (s *Service) generateID(ctx context.Context, base string) (string, error) {
	for i := 1; i <= maxIDAttempts; i++ {
		id := base
		if i > 1 {
			id = fmt.Sprintf("%s-%d", base, i)
		}
		exists, err := s.store.ControllerExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("id base %s: %w", base, ErrUniqueIDCollision)
}

func virtualPort(cand model.CandidateDevice, cfg map[string]any) model.Port {
	return model.Port{
		PortNumber:          1,
		ConnectedDeviceName: cand.Hostname,
		IsActive:            true,
		ConnectionConfig:    cfg,
	}
}

func irCapabilitySnapshot(info espapi.DeviceInfo, caps espapi.Capabilities) map[string]any {
	snap := map[string]any{
		"status_available": false,
		"project":          caps.Project,
		"schema":           caps.Schema,
		"firmware":         info.ESPHomeVersion,
		"model":            info.Model,
	}
	if len(caps.Ports) > 0 {
		ports := make([]map[string]any, 0, len(caps.Ports))
		for _, p := range caps.Ports {
			ports = append(ports, map[string]any{"port": p.Port, "lib": p.Lib, "brand": p.Brand})
		}
		snap["ports"] = ports
	}
	if caps.Template != nil {
		snap["template_id"] = caps.Template.ID
		snap["template_revision"] = caps.Template.Revision
	}
	return snap
}

// protocolFromPorts picks the control protocol from open-port evidence,
// strongest port first.
func protocolFromPorts(open []int) model.Protocol {
	byPort := []struct {
		port  int
		proto model.Protocol
	}{
		{8002, model.ProtocolSamsungWebsocket},
		{8001, model.ProtocolSamsungWebsocket},
		{55000, model.ProtocolSamsungLegacy},
		{3001, model.ProtocolLGWebOS},
		{3000, model.ProtocolLGWebOS},
		{36669, model.ProtocolHisenseVidaa},
		{1926, model.ProtocolPhilipsJointspace},
		{1925, model.ProtocolPhilipsJointspace},
		{8060, model.ProtocolRoku},
		{7345, model.ProtocolVizioSmartcast},
		{50002, model.ProtocolSonyBravia},
		{50001, model.ProtocolSonyBravia},
	}
	for _, entry := range byPort {
		if hasPort(open, entry.port) {
			return entry.proto
		}
	}
	return ""
}

func isSamsung(cand model.CandidateDevice) bool {
	if strings.Contains(strings.ToLower(cand.Vendor), "samsung") {
		return true
	}
	return hasPort(cand.OpenPorts, 8002) || hasPort(cand.OpenPorts, 8001) || hasPort(cand.OpenPorts, 55000)
}

func hasPort(ports []int, want int) bool {
	for _, p := range ports {
		if p == want {
			return true
		}
	}
	return false
}

// ipToken dash-encodes an IP address for use inside a controller id, so
// the id stays a single dot-free token: "192.168.1.50" -> "192-168-1-50".
func ipToken(ip string) string {
	return strings.ReplaceAll(ip, ".", "-")
}

// vendorToken reduces an OUI vendor string to a short id segment.
func vendorToken(vendor string) string {
	v := strings.ToLower(vendor)
	if i := strings.IndexAny(v, " ,."); i > 0 {
		v = v[:i]
	}
	if v == "" {
		return "amp"
	}
	return v
}

func fetchIRCaps(ctx context.Context, ip string) (espapi.DeviceInfo, espapi.Capabilities, error) {
	client := espapi.New(ip, "")
	if err := client.Connect(ctx); err != nil {
		return espapi.DeviceInfo{}, espapi.Capabilities{}, err
	}
	defer func() { _ = client.Close() }()
	info, err := client.DeviceInfo(ctx)
	if err != nil {
		return espapi.DeviceInfo{}, espapi.Capabilities{}, err
	}
	caps, err := client.FetchCapabilities(ctx)
	if err != nil {
		return info, espapi.Capabilities{}, err
	}
	return info, caps, nil
}

func discoverAES70(ctx context.Context, ip string) ([]ocp1.Zone, error) {
	client := ocp1.New(ip)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()
	return client.DiscoverZones(ctx)
}

func discoverPlena(ctx context.Context, ip string) (plena.DeviceInfo, plena.ZoneNames, error) {
	client := plena.New(ip)
	defer func() { _ = client.Close() }()
	info, err := client.What(ctx)
	if err != nil {
		return plena.DeviceInfo{}, plena.ZoneNames{}, err
	}
	names, err := client.ZoneNames(ctx)
	if err != nil {
		return info, plena.ZoneNames{}, err
	}
	return info, names, nil
}
