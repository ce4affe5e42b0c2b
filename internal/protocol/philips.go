// SPDX-License-Identifier: MIT

package protocol

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

// philipsKeyMap translates command kinds to JointSpace input keys.
var philipsKeyMap = map[model.CommandKind]string{
	model.KindPower:       "Standby",
	model.KindPowerOff:    "Standby",
	model.KindMute:        "Mute",
	model.KindVolumeUp:    "VolumeUp",
	model.KindVolumeDown:  "VolumeDown",
	model.KindChannelUp:   "ChannelStepUp",
	model.KindChannelDown: "ChannelStepDown",
}

// PhilipsExecutor speaks JointSpace. Android-based sets use HTTPS on 1926,
// older ones plain HTTP on 1925; the base URL is decided at adoption.
type PhilipsExecutor struct {
	baseURL string
	mac     string
	client  *http.Client
}

// NewPhilipsExecutor builds an executor. secure selects the 1926 HTTPS
// surface; mac enables Wake-on-LAN for power-on.
func NewPhilipsExecutor(host string, secure bool, mac string) *PhilipsExecutor {
	base := fmt.Sprintf("http://%s:1925/6", host)
	client := &http.Client{Timeout: 10 * time.Second}
	if secure {
		base = fmt.Sprintf("https://%s:1926/6", host)
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // self-signed TV cert
		}
	}
	return &PhilipsExecutor{baseURL: base, mac: mac, client: client}
}

func (e *PhilipsExecutor) Execute(ctx context.Context, cmd model.Command) error {
	switch cmd.Kind {
	case model.KindPowerOn:
		if e.mac != "" {
			return sendWakeOnLAN(e.mac)
		}
		return e.post(ctx, "/input/key", map[string]string{"key": "Standby"})
	case model.KindChannel:
		err := sendChannelDigits(ctx, cmd.Channel, func(ctx context.Context, d int) error {
			return e.post(ctx, "/input/key", map[string]string{"key": fmt.Sprintf("Digit%d", d)})
		})
		if err != nil {
			return err
		}
		return e.post(ctx, "/input/key", map[string]string{"key": "Confirm"})
	case model.KindNumber:
		return e.post(ctx, "/input/key", map[string]string{"key": fmt.Sprintf("Digit%d", cmd.Digit)})
	}
	key, ok := philipsKeyMap[cmd.Kind]
	if !ok {
		return Unsupportedf("philips jointspace cannot send %s", cmd.Kind)
	}
	return e.post(ctx, "/input/key", map[string]string{"key": key})
}

// ProbeStatus reads powerstate and audio volume.
func (e *PhilipsExecutor) ProbeStatus(ctx context.Context) (model.DeviceStatus, error) {
	var power struct {
		PowerState string `json:"powerstate"`
	}
	if err := e.get(ctx, "/powerstate", &power); err != nil {
		return model.DeviceStatus{}, err
	}
	ds := model.DeviceStatus{PowerState: model.PowerOff, CheckMethod: "philips_jointspace"}
	if power.PowerState == "On" {
		ds.PowerState = model.PowerOn
	}

	var audio struct {
		Current int  `json:"current"`
		Muted   bool `json:"muted"`
	}
	if err := e.get(ctx, "/audio/volume", &audio); err == nil {
		ds.VolumeLevel = audio.Current
		ds.IsMuted = audio.Muted
	}
	return ds, nil
}

func (e *PhilipsExecutor) post(ctx context.Context, path string, payload any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Protocolf("philips request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return wrapNetErr(err, "philips "+path)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return Authf("philips tv requires pairing")
	}
	if resp.StatusCode != http.StatusOK {
		return Protocolf("philips %s: http %d", path, resp.StatusCode)
	}
	return nil
}

func (e *PhilipsExecutor) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return Protocolf("philips request: %v", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return wrapNetErr(err, "philips "+path)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Protocolf("philips %s: http %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Protocolf("philips %s: %v", path, err)
	}
	return nil
}

func (e *PhilipsExecutor) Close() error { return nil }
