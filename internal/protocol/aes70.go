// SPDX-License-Identifier: MIT

package protocol

import (
	"context"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/ocp1"
)

// gainStepDB is the level change one volume_up/volume_down command applies.
const gainStepDB = 2.0

// AES70Executor drives one amplifier zone set over a long-lived OCP.1
// session. Each port maps to a zone; the port's connection config carries
// the gain and mute object numbers discovered at adoption.
type AES70Executor struct {
	client *ocp1.Client
	ports  map[int]model.Port
}

// NewAES70Executor builds an executor over the controller's zone ports.
func NewAES70Executor(host string, ports []model.Port) *AES70Executor {
	byNumber := make(map[int]model.Port, len(ports))
	for _, p := range ports {
		byNumber[p.PortNumber] = p
	}
	return &AES70Executor{client: ocp1.New(host), ports: byNumber}
}

func (e *AES70Executor) Execute(ctx context.Context, cmd model.Command) error {
	port, ok := e.ports[cmd.PortNumber]
	if !ok {
		return Protocolf("no zone mapped to port %d", cmd.PortNumber)
	}
	gainONo := uint32(configInt(port.ConnectionConfig, "gain_ono", 0))
	muteONo := uint32(configInt(port.ConnectionConfig, "mute_ono", 0))
	if gainONo == 0 {
		return Protocolf("port %d has no gain object", cmd.PortNumber)
	}

	switch cmd.Kind {
	case model.KindVolumeUp:
		return e.stepGain(ctx, port, gainONo, gainStepDB)
	case model.KindVolumeDown:
		return e.stepGain(ctx, port, gainONo, -gainStepDB)
	case model.KindMute:
		if muteONo == 0 {
			return Unsupportedf("zone %d has no mute object", cmd.PortNumber)
		}
		muted, err := e.client.GetMute(ctx, muteONo)
		if err != nil {
			return wrapNetErr(err, "aes70 get mute")
		}
		if err := e.client.SetMute(ctx, muteONo, !muted); err != nil {
			return wrapNetErr(err, "aes70 set mute")
		}
		return nil
	default:
		return Unsupportedf("aes70 amplifier cannot carry %s", cmd.Kind)
	}
}

// stepGain reads the current level, applies the step and clamps to the
// zone's discovered range.
func (e *AES70Executor) stepGain(ctx context.Context, port model.Port, gainONo uint32, step float32) error {
	current, _, _, err := e.client.GetGain(ctx, gainONo)
	if err != nil {
		return wrapNetErr(err, "aes70 get gain")
	}

	min := float32(configInt(port.ConnectionConfig, "gain_min", ocp1.DefaultGainMin))
	max := float32(configInt(port.ConnectionConfig, "gain_max", ocp1.DefaultGainMax))
	target := current + step
	if target < min {
		target = min
	}
	if target > max {
		target = max
	}
	if err := e.client.SetGain(ctx, gainONo, target); err != nil {
		return wrapNetErr(err, "aes70 set gain")
	}
	return nil
}

func (e *AES70Executor) Close() error {
	return e.client.Close()
}
