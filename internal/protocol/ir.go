// SPDX-License-Identifier: MIT

package protocol

import (
	"context"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/espapi"
)

// IRExecutor drives an ESP IR blaster over the native API. The blaster
// exposes one named service per command kind; each call carries the physical
// port and an optional digit or channel string.
type IRExecutor struct {
	client   *espapi.Client
	services map[string]uint32
}

// NewIRExecutor builds an executor for an IR controller at host.
func NewIRExecutor(host string) *IRExecutor {
	return &IRExecutor{client: espapi.New(host, "")}
}

func (e *IRExecutor) Execute(ctx context.Context, cmd model.Command) error {
	service := model.IRServiceName(cmd.Kind)
	if service == "" {
		return Unsupportedf("ir blaster has no service for %s", cmd.Kind)
	}
	key, err := e.serviceKey(ctx, service)
	if err != nil {
		return err
	}

	args := []espapi.ServiceArg{espapi.ArgInt(cmd.PortNumber)}
	switch cmd.Kind {
	case model.KindChannel:
		if cmd.Channel == "" {
			return Protocolf("channel command without channel value")
		}
		// The blaster firmware drives digit emission itself; the channel is
		// passed whole so leading zeros survive.
		args = append(args, espapi.ArgString(cmd.Channel))
	case model.KindNumber:
		args = append(args, espapi.ArgInt(cmd.Digit))
	}

	if err := e.client.ExecuteService(ctx, key, args...); err != nil {
		return wrapNetErr(err, "ir service "+service)
	}
	return nil
}

// serviceKey resolves a service name to its entity key, listing entities on
// first use and caching the map for the life of the session.
func (e *IRExecutor) serviceKey(ctx context.Context, name string) (uint32, error) {
	if e.services == nil {
		ents, err := e.client.ListEntities(ctx)
		if err != nil {
			return 0, wrapNetErr(err, "ir entity listing")
		}
		e.services = make(map[string]uint32, len(ents.Services))
		for _, svc := range ents.Services {
			e.services[svc.Name] = svc.Key
		}
	}
	key, ok := e.services[name]
	if !ok {
		return 0, Protocolf("device does not expose service %q", name)
	}
	return key, nil
}

// Ping reports device liveness over the existing session.
func (e *IRExecutor) Ping(ctx context.Context) error {
	if err := e.client.Ping(ctx); err != nil {
		return wrapNetErr(err, "ir ping")
	}
	return nil
}

func (e *IRExecutor) Close() error {
	e.services = nil
	return e.client.Close()
}
