// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"sync"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol/plena"
)

// plenaStepDB is the level change one volume command applies.
const plenaStepDB = 2.0

// PlenaMatrixExecutor drives a 4-zone Plena Matrix amplifier over its UDP
// protocol. The amplifier reports no current levels, so the executor tracks
// the last written gain per zone, starting from a quiet default.
type PlenaMatrixExecutor struct {
	client *plena.Client

	mu    sync.Mutex
	gains map[int]float32
	muted map[int]bool
}

func NewPlenaMatrixExecutor(host string) *PlenaMatrixExecutor {
	return &PlenaMatrixExecutor{
		client: plena.New(host),
		gains:  make(map[int]float32),
		muted:  make(map[int]bool),
	}
}

const plenaDefaultGain = -20.0

func (e *PlenaMatrixExecutor) Execute(ctx context.Context, cmd model.Command) error {
	zone := cmd.PortNumber
	switch cmd.Kind {
	case model.KindVolumeUp:
		return e.stepGain(ctx, zone, plenaStepDB)
	case model.KindVolumeDown:
		return e.stepGain(ctx, zone, -plenaStepDB)
	case model.KindMute:
		e.mu.Lock()
		next := !e.muted[zone]
		e.mu.Unlock()
		if err := e.client.SetZoneMute(ctx, zone, next); err != nil {
			return wrapNetErr(err, "plena mute")
		}
		e.mu.Lock()
		e.muted[zone] = next
		e.mu.Unlock()
		return nil
	default:
		return Unsupportedf("plena matrix cannot carry %s", cmd.Kind)
	}
}

func (e *PlenaMatrixExecutor) stepGain(ctx context.Context, zone int, step float32) error {
	e.mu.Lock()
	current, ok := e.gains[zone]
	if !ok {
		current = plenaDefaultGain
	}
	e.mu.Unlock()

	target := current + step
	if target < -80 {
		target = -80
	}
	if target > 10 {
		target = 10
	}
	if err := e.client.SetZoneGain(ctx, zone, target); err != nil {
		return wrapNetErr(err, "plena gain")
	}
	e.mu.Lock()
	e.gains[zone] = target
	e.mu.Unlock()
	return nil
}

// Ping reports amplifier liveness.
func (e *PlenaMatrixExecutor) Ping(ctx context.Context) error {
	if err := e.client.Ping(ctx); err != nil {
		return wrapNetErr(err, "plena ping")
	}
	return nil
}

func (e *PlenaMatrixExecutor) Close() error {
	return e.client.Close()
}
