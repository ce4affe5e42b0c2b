// SPDX-License-Identifier: MIT

// Package protocol routes queued commands to device-specific executors and
// defines the failure taxonomy the queue's retry logic is built on.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

// interDigitDelay paces digit-by-digit channel entry. TVs drop digits that
// arrive faster than their on-screen channel entry overlay.
const interDigitDelay = 700 * time.Millisecond

// Executor carries commands to one controller. Implementations may hold
// stateful transports; the router serialises calls per controller.
type Executor interface {
	Execute(ctx context.Context, cmd model.Command) error
	Close() error
}

// StatusProber is implemented by executors whose protocol can report device
// state. Pollers probe through this; executors without it get liveness pings
// only.
type StatusProber interface {
	ProbeStatus(ctx context.Context) (model.DeviceStatus, error)
}

// sendChannelDigits expands a channel string into per-digit sends with the
// standard inter-digit delay. The channel string preserves leading zeros.
func sendChannelDigits(ctx context.Context, channel string, send func(context.Context, int) error) error {
	if channel == "" {
		return Protocolf("channel command without channel value")
	}
	for i, r := range channel {
		if r < '0' || r > '9' {
			return Protocolf("channel %q contains non-digit %q", channel, r)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return wrapNetErr(ctx.Err(), "channel entry interrupted")
			case <-time.After(interDigitDelay):
			}
		}
		if err := send(ctx, int(r-'0')); err != nil {
			return err
		}
	}
	return nil
}

// configString pulls an optional string out of a port's connection config.
func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	if v, ok := cfg[key].(string); ok {
		return v
	}
	if v, ok := cfg[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// configInt pulls an optional integer out of a port's connection config.
// JSON round trips store numbers as float64.
func configInt(cfg map[string]any, key string, fallback int) int {
	if cfg == nil {
		return fallback
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// configBool pulls an optional flag out of a port's connection config.
func configBool(cfg map[string]any, key string) bool {
	if cfg == nil {
		return false
	}
	v, ok := cfg[key].(bool)
	return ok && v
}
