// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

// rokuKeyMap translates command kinds to ECP keypress names.
var rokuKeyMap = map[model.CommandKind]string{
	model.KindPower:       "Power",
	model.KindPowerOn:     "PowerOn",
	model.KindPowerOff:    "PowerOff",
	model.KindMute:        "VolumeMute",
	model.KindVolumeUp:    "VolumeUp",
	model.KindVolumeDown:  "VolumeDown",
	model.KindChannelUp:   "ChannelUp",
	model.KindChannelDown: "ChannelDown",
}

// RokuExecutor speaks the External Control Protocol on port 8060. ECP is
// stateless HTTP, so no connection is held.
type RokuExecutor struct {
	host   string
	client *http.Client
}

func NewRokuExecutor(host string) *RokuExecutor {
	return &RokuExecutor{host: host, client: &http.Client{Timeout: 5 * time.Second}}
}

func (e *RokuExecutor) Execute(ctx context.Context, cmd model.Command) error {
	switch cmd.Kind {
	case model.KindChannel:
		err := sendChannelDigits(ctx, cmd.Channel, func(ctx context.Context, d int) error {
			return e.keypress(ctx, fmt.Sprintf("Lit_%d", d))
		})
		if err != nil {
			return err
		}
		return e.keypress(ctx, "Enter")
	case model.KindNumber:
		return e.keypress(ctx, fmt.Sprintf("Lit_%d", cmd.Digit))
	}
	key, ok := rokuKeyMap[cmd.Kind]
	if !ok {
		return Unsupportedf("roku cannot send %s", cmd.Kind)
	}
	return e.keypress(ctx, key)
}

func (e *RokuExecutor) keypress(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s:8060/keypress/%s", e.host, key), nil)
	if err != nil {
		return Protocolf("roku request: %v", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return wrapNetErr(err, "roku keypress "+key)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Protocolf("roku keypress %s: http %d", key, resp.StatusCode)
	}
	return nil
}

// ProbeStatus reads power mode from the ECP device-info document.
func (e *RokuExecutor) ProbeStatus(ctx context.Context) (model.DeviceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s:8060/query/device-info", e.host), nil)
	if err != nil {
		return model.DeviceStatus{}, Protocolf("roku request: %v", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return model.DeviceStatus{}, wrapNetErr(err, "roku device-info")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return model.DeviceStatus{}, Protocolf("roku device-info: http %d", resp.StatusCode)
	}

	var info struct {
		PowerMode string `xml:"power-mode"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&info); err != nil {
		return model.DeviceStatus{}, Protocolf("roku device-info: %v", err)
	}
	ds := model.DeviceStatus{PowerState: model.PowerOff, CheckMethod: "roku_ecp"}
	if info.PowerMode == "PowerOn" {
		ds.PowerState = model.PowerOn
	}
	return ds, nil
}

func (e *RokuExecutor) Close() error { return nil }
