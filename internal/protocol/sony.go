// SPDX-License-Identifier: MIT

package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

// Bravia IRCC remote codes for key presses that have no structured call.
var sonyIRCCMap = map[model.CommandKind]string{
	model.KindPower:       "AAAAAQAAAAEAAAAVAw==",
	model.KindMute:        "AAAAAQAAAAEAAAAUAw==",
	model.KindVolumeUp:    "AAAAAQAAAAEAAAASAw==",
	model.KindVolumeDown:  "AAAAAQAAAAEAAAATAw==",
	model.KindChannelUp:   "AAAAAQAAAAEAAAAQAw==",
	model.KindChannelDown: "AAAAAQAAAAEAAAARAw==",
}

// sonyDigitCodes are the IRCC codes for Num0..Num9.
var sonyDigitCodes = [10]string{
	"AAAAAQAAAAEAAAAJAw==", // 0
	"AAAAAQAAAAEAAAAAAw==",
	"AAAAAQAAAAEAAAABAw==",
	"AAAAAQAAAAEAAAACAw==",
	"AAAAAQAAAAEAAAADAw==",
	"AAAAAQAAAAEAAAAEAw==",
	"AAAAAQAAAAEAAAAFAw==",
	"AAAAAQAAAAEAAAAGAw==",
	"AAAAAQAAAAEAAAAHAw==",
	"AAAAAQAAAAEAAAAIAw==",
}

// SonyExecutor drives a Bravia over the REST API with a pre-shared key.
// Structured calls carry power; everything else goes through IRCC.
type SonyExecutor struct {
	host   string
	psk    string
	client *http.Client
}

func NewSonyExecutor(host, psk string) *SonyExecutor {
	return &SonyExecutor{host: host, psk: psk, client: &http.Client{Timeout: 10 * time.Second}}
}

func (e *SonyExecutor) Execute(ctx context.Context, cmd model.Command) error {
	switch cmd.Kind {
	case model.KindPowerOn:
		return e.rpc(ctx, "system", "setPowerStatus", map[string]any{"status": true}, nil)
	case model.KindPowerOff:
		return e.rpc(ctx, "system", "setPowerStatus", map[string]any{"status": false}, nil)
	case model.KindChannel:
		err := sendChannelDigits(ctx, cmd.Channel, func(ctx context.Context, d int) error {
			return e.sendIRCC(ctx, sonyDigitCodes[d])
		})
		if err != nil {
			return err
		}
		return e.sendIRCC(ctx, "AAAAAQAAAAEAAABlAw==") // Enter
	case model.KindNumber:
		if cmd.Digit < 0 || cmd.Digit > 9 {
			return Protocolf("digit %d out of range", cmd.Digit)
		}
		return e.sendIRCC(ctx, sonyDigitCodes[cmd.Digit])
	}
	code, ok := sonyIRCCMap[cmd.Kind]
	if !ok {
		return Unsupportedf("sony bravia cannot send %s", cmd.Kind)
	}
	return e.sendIRCC(ctx, code)
}

// ProbeStatus reads power and volume through the structured API.
func (e *SonyExecutor) ProbeStatus(ctx context.Context) (model.DeviceStatus, error) {
	var power struct {
		Status string `json:"status"`
	}
	if err := e.rpc(ctx, "system", "getPowerStatus", nil, &power); err != nil {
		return model.DeviceStatus{}, err
	}
	ds := model.DeviceStatus{PowerState: model.PowerOff, CheckMethod: "sony_rest"}
	if power.Status == "active" {
		ds.PowerState = model.PowerOn
	}

	var volumes []struct {
		Target string `json:"target"`
		Volume int    `json:"volume"`
		Mute   bool   `json:"mute"`
	}
	if err := e.rpc(ctx, "audio", "getVolumeInformation", nil, &volumes); err == nil {
		for _, v := range volumes {
			if v.Target == "speaker" || len(volumes) == 1 {
				ds.VolumeLevel = v.Volume
				ds.IsMuted = v.Mute
			}
		}
	}
	return ds, nil
}

// rpc posts one JSON-RPC call to /sony/<service>. The first result object,
// when present, is decoded into out.
func (e *SonyExecutor) rpc(ctx context.Context, service, method string, params any, out any) error {
	paramList := []any{}
	if params != nil {
		paramList = append(paramList, params)
	}
	body, _ := json.Marshal(map[string]any{
		"method":  method,
		"params":  paramList,
		"id":      1,
		"version": "1.0",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/sony/%s", e.host, service), bytes.NewReader(body))
	if err != nil {
		return Protocolf("sony request: %v", err)
	}
	req.Header.Set("X-Auth-PSK", e.psk)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return wrapNetErr(err, "sony "+method)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return Authf("sony tv rejected pre-shared key")
	}
	if resp.StatusCode != http.StatusOK {
		return Protocolf("sony %s: http %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result []json.RawMessage `json:"result"`
		Error  []json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return Protocolf("sony %s: %v", method, err)
	}
	if len(envelope.Error) > 0 {
		return Protocolf("sony %s: device error %s", method, envelope.Error[0])
	}
	if out != nil && len(envelope.Result) > 0 {
		return json.Unmarshal(envelope.Result[0], out)
	}
	return nil
}

const sonyIRCCEnvelope = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:X_SendIRCC xmlns:u="urn:schemas-sony-com:service:IRCC:1">
      <IRCCCode>%s</IRCCCode>
    </u:X_SendIRCC>
  </s:Body>
</s:Envelope>`

func (e *SonyExecutor) sendIRCC(ctx context.Context, code string) error {
	body := fmt.Sprintf(sonyIRCCEnvelope, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/sony/ircc", e.host), strings.NewReader(body))
	if err != nil {
		return Protocolf("sony ircc request: %v", err)
	}
	req.Header.Set("X-Auth-PSK", e.psk)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", `"urn:schemas-sony-com:service:IRCC:1#X_SendIRCC"`)

	resp, err := e.client.Do(req)
	if err != nil {
		return wrapNetErr(err, "sony ircc")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return Authf("sony tv rejected pre-shared key")
	}
	if resp.StatusCode != http.StatusOK {
		return Protocolf("sony ircc: http %d", resp.StatusCode)
	}
	return nil
}

func (e *SonyExecutor) Close() error { return nil }
