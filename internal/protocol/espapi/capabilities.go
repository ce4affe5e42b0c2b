// SPDX-License-Identifier: MIT

package espapi

import (
	"context"
	"encoding/json"
	"fmt"
)

// capabilitiesSensor is the text-state channel carrying the IR capability
// document, and reportService the RPC that asks the device to publish it.
const (
	capabilitiesSensor = "ir_capabilities_payload"
	reportService      = "report_capabilities"
)

// Capabilities is the JSON document an IR controller publishes about its
// port configuration and loaded code libraries.
type Capabilities struct {
	Project  string            `json:"project"`
	Schema   int               `json:"schema"`
	Ports    []CapabilityPort  `json:"ports"`
	Libs     []int             `json:"libs"`
	Template *CapabilityTemplate `json:"template,omitempty"`
}

// CapabilityPort describes one IR output port. Port numbers are 1-based.
type CapabilityPort struct {
	Port  int    `json:"port"`
	Lib   int    `json:"lib"`
	Brand string `json:"brand,omitempty"`
}

// CapabilityTemplate identifies the firmware template build.
type CapabilityTemplate struct {
	ID       int    `json:"id"`
	Revision int    `json:"revision"`
	Version  string `json:"version"`
}

// FetchCapabilities asks the device to publish its capability document and
// waits for it on the text-sensor channel, bounded by ctx.
func (c *Client) FetchCapabilities(ctx context.Context) (Capabilities, error) {
	var caps Capabilities

	ents, err := c.ListEntities(ctx)
	if err != nil {
		return caps, err
	}
	var sensorKey uint32
	found := false
	for _, ts := range ents.TextSensors {
		if ts.ObjectID == capabilitiesSensor {
			sensorKey = ts.Key
			found = true
			break
		}
	}
	if !found {
		return caps, fmt.Errorf("espapi %s: no %s sensor", c.addr, capabilitiesSensor)
	}

	// Nudge the device to re-publish; older templates only publish on boot.
	for _, svc := range ents.Services {
		if svc.Name == reportService {
			if err := c.ExecuteService(ctx, svc.Key); err != nil {
				return caps, err
			}
			break
		}
	}

	state, err := c.WatchTextSensor(ctx, sensorKey)
	if err != nil {
		return caps, err
	}
	if err := json.Unmarshal([]byte(state), &caps); err != nil {
		return caps, fmt.Errorf("espapi %s: capability payload: %w", c.addr, err)
	}
	return caps, nil
}
