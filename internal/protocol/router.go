// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartvenue/venued/internal/log"
	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/store"
)

// protocolDeadlines overrides the 10 s default per-call budget for
// protocols that answer faster or not at all.
var protocolDeadlines = map[model.Protocol]time.Duration{
	model.ProtocolSamsungLegacy: 5 * time.Second,
	model.ProtocolRoku:          5 * time.Second,
}

const defaultDeadline = 10 * time.Second

// Deadline returns the per-call budget for a protocol.
func Deadline(p model.Protocol) time.Duration {
	if d, ok := protocolDeadlines[p]; ok {
		return d
	}
	return defaultDeadline
}

// routerEntry is one cached executor plus the per-controller mutex that
// serialises calls over its stateful transport.
type routerEntry struct {
	mu   sync.Mutex
	exec Executor
}

// Router dispatches commands on (controller_type, protocol) and caches one
// executor per controller. Unadoption and network reconciliation invalidate
// the cache entry.
type Router struct {
	store  *store.Store
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*routerEntry
}

func NewRouter(st *store.Store) *Router {
	return &Router{
		store:   st,
		logger:  log.WithComponent("protocol.router"),
		entries: make(map[string]*routerEntry),
	}
}

// Execute routes one command: resolve the executor, take the controller
// lock, apply the protocol deadline and run.
func (r *Router) Execute(ctx context.Context, cmd model.Command) error {
	entry, ctrl, err := r.entry(ctx, cmd.ControllerID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, Deadline(ctrl.Protocol))
	defer cancel()
	return entry.exec.Execute(callCtx, cmd)
}

// Probe runs a status probe against a controller whose executor supports
// one. Returns ok=false when the protocol cannot report state.
func (r *Router) Probe(ctx context.Context, controllerID string) (model.DeviceStatus, bool, error) {
	entry, ctrl, err := r.entry(ctx, controllerID)
	if err != nil {
		return model.DeviceStatus{}, false, err
	}
	prober, ok := entry.exec.(StatusProber)
	if !ok {
		return model.DeviceStatus{}, false, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, Deadline(ctrl.Protocol))
	defer cancel()
	ds, err := prober.ProbeStatus(callCtx)
	return ds, true, err
}

// Invalidate drops and closes a cached executor. Called on unadoption and
// after an IP reconciliation.
func (r *Router) Invalidate(controllerID string) {
	r.mu.Lock()
	entry, ok := r.entries[controllerID]
	delete(r.entries, controllerID)
	r.mu.Unlock()
	if ok && entry.exec != nil {
		entry.mu.Lock()
		_ = entry.exec.Close()
		entry.mu.Unlock()
	}
}

// CloseAll tears down every cached executor at shutdown.
func (r *Router) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*routerEntry)
	r.mu.Unlock()
	for _, entry := range entries {
		if entry.exec != nil {
			_ = entry.exec.Close()
		}
	}
}

// entry returns the cached executor for a controller, building one from the
// stored controller and port configuration on first use.
func (r *Router) entry(ctx context.Context, controllerID string) (*routerEntry, model.ManagedController, error) {
	r.mu.Lock()
	if e, ok := r.entries[controllerID]; ok {
		r.mu.Unlock()
		ctrl, err := r.store.GetController(ctx, controllerID)
		return e, ctrl, err
	}
	r.mu.Unlock()

	ctrl, err := r.store.GetController(ctx, controllerID)
	if err != nil {
		return nil, ctrl, err
	}
	ports, err := r.store.ListPorts(ctx, controllerID)
	if err != nil {
		return nil, ctrl, err
	}
	exec, err := buildExecutor(ctrl, ports)
	if err != nil {
		return nil, ctrl, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[controllerID]; ok {
		// lost the race; discard ours
		_ = exec.Close()
		return e, ctrl, nil
	}
	e := &routerEntry{exec: exec}
	r.entries[controllerID] = e
	r.logger.Debug().
		Str("event", "router.executor_built").
		Str("controller_id", controllerID).
		Str("protocol", string(ctrl.Protocol)).
		Msg("executor cached")
	return e, ctrl, nil
}

// buildExecutor constructs the protocol executor for a controller. TV
// credentials live in port 1's connection config.
func buildExecutor(ctrl model.ManagedController, ports []model.Port) (Executor, error) {
	var primary map[string]any
	for _, p := range ports {
		if p.PortNumber == 1 {
			primary = p.ConnectionConfig
			break
		}
	}

	if ctrl.ControllerType == model.ControllerIRBlaster {
		return NewIRExecutor(ctrl.IPAddress), nil
	}

	switch ctrl.Protocol {
	case model.ProtocolSamsungWebsocket:
		return NewSamsungWSExecutor(ctrl.IPAddress, configString(primary, "auth_token")), nil
	case model.ProtocolSamsungLegacy:
		return NewSamsungLegacyExecutor(ctrl.IPAddress), nil
	case model.ProtocolLGWebOS:
		return NewLGWebOSExecutor(ctrl.IPAddress, configString(primary, "client_key"), ctrl.MACAddress), nil
	case model.ProtocolSonyBravia:
		return NewSonyExecutor(ctrl.IPAddress, configString(primary, "psk")), nil
	case model.ProtocolHisenseVidaa:
		return NewHisenseExecutor(ctrl.IPAddress, configString(primary, "client_id")), nil
	case model.ProtocolPhilipsJointspace:
		return NewPhilipsExecutor(ctrl.IPAddress, configBool(primary, "secure"), ctrl.MACAddress), nil
	case model.ProtocolRoku:
		return NewRokuExecutor(ctrl.IPAddress), nil
	case model.ProtocolVizioSmartcast:
		return NewVizioExecutor(ctrl.IPAddress, configString(primary, "auth_token")), nil
	case model.ProtocolBoschAES70:
		return NewAES70Executor(ctrl.IPAddress, ports), nil
	case model.ProtocolBoschPlenaMatrix:
		return NewPlenaMatrixExecutor(ctrl.IPAddress), nil
	}
	return nil, Unsupportedf("no executor for %s/%s", ctrl.ControllerType, ctrl.Protocol)
}
