// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartvenue/venued/internal/model"
)

// lgSSAPURIs maps command kinds to webOS service endpoints.
var lgSSAPURIs = map[model.CommandKind]string{
	model.KindPower:       "ssap://system/turnOff",
	model.KindPowerOff:    "ssap://system/turnOff",
	model.KindVolumeUp:    "ssap://audio/volumeUp",
	model.KindVolumeDown:  "ssap://audio/volumeDown",
	model.KindChannelUp:   "ssap://tv/channelUp",
	model.KindChannelDown: "ssap://tv/channelDown",
}

// LGWebOSExecutor controls a webOS TV over its SSAP WebSocket using a
// pre-shared pairing key. Power-on is carried by Wake-on-LAN since the
// socket is unreachable while the panel is off.
type LGWebOSExecutor struct {
	host      string
	clientKey string
	mac       string

	conn  *websocket.Conn
	msgID int
}

func NewLGWebOSExecutor(host, clientKey, mac string) *LGWebOSExecutor {
	return &LGWebOSExecutor{host: host, clientKey: clientKey, mac: mac}
}

func (e *LGWebOSExecutor) Execute(ctx context.Context, cmd model.Command) error {
	switch cmd.Kind {
	case model.KindPowerOn:
		return sendWakeOnLAN(e.mac)
	case model.KindMute:
		st, err := e.ProbeStatus(ctx)
		if err != nil {
			return err
		}
		return e.request(ctx, "ssap://audio/setMute", map[string]any{"mute": !st.IsMuted}, nil)
	case model.KindChannel:
		if cmd.Channel == "" {
			return Protocolf("channel command without channel value")
		}
		// webOS tunes atomically; no digit emission needed.
		return e.request(ctx, "ssap://tv/openChannel", map[string]any{"channelNumber": cmd.Channel}, nil)
	case model.KindNumber:
		return e.request(ctx, "ssap://tv/openChannel", map[string]any{"channelNumber": fmt.Sprint(cmd.Digit)}, nil)
	}
	uri, ok := lgSSAPURIs[cmd.Kind]
	if !ok {
		return Unsupportedf("lg webos cannot send %s", cmd.Kind)
	}
	return e.request(ctx, uri, nil, nil)
}

// ProbeStatus reads volume and mute; a reachable socket implies the panel
// is on.
func (e *LGWebOSExecutor) ProbeStatus(ctx context.Context) (model.DeviceStatus, error) {
	var payload struct {
		Volume int  `json:"volume"`
		Muted  bool `json:"muted"`
	}
	if err := e.request(ctx, "ssap://audio/getVolume", nil, &payload); err != nil {
		return model.DeviceStatus{}, err
	}
	return model.DeviceStatus{
		PowerState:  model.PowerOn,
		VolumeLevel: payload.Volume,
		IsMuted:     payload.Muted,
		CheckMethod: "lg_ssap",
	}, nil
}

type ssapEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// request sends one SSAP request and decodes the response payload into out.
func (e *LGWebOSExecutor) request(ctx context.Context, uri string, payload any, out any) error {
	if err := e.connect(ctx); err != nil {
		return err
	}

	e.msgID++
	id := fmt.Sprintf("venued_%d", e.msgID)
	raw, _ := json.Marshal(payload)
	req := ssapEnvelope{Type: "request", ID: id, URI: uri, Payload: raw}
	if payload == nil {
		req.Payload = nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = e.conn.SetWriteDeadline(deadline)
	_ = e.conn.SetReadDeadline(deadline)

	if err := e.conn.WriteJSON(req); err != nil {
		e.reset()
		return wrapNetErr(err, "lg ssap "+uri)
	}

	for {
		var resp ssapEnvelope
		if err := e.conn.ReadJSON(&resp); err != nil {
			e.reset()
			return wrapNetErr(err, "lg ssap response")
		}
		if resp.ID != id {
			continue // unsolicited subscription traffic
		}
		if resp.Type == "error" {
			return Protocolf("lg ssap %s failed: %s", uri, string(resp.Payload))
		}
		var rv struct {
			ReturnValue *bool `json:"returnValue"`
		}
		_ = json.Unmarshal(resp.Payload, &rv)
		if rv.ReturnValue != nil && !*rv.ReturnValue {
			return Protocolf("lg ssap %s returned false", uri)
		}
		if out != nil {
			return json.Unmarshal(resp.Payload, out)
		}
		return nil
	}
}

// connect dials the SSAP socket and completes key registration.
func (e *LGWebOSExecutor) connect(ctx context.Context) error {
	if e.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, fmt.Sprintf("wss://%s:3001", e.host), nil)
	if err != nil {
		conn, _, err = dialer.DialContext(ctx, fmt.Sprintf("ws://%s:3000", e.host), nil)
	}
	if err != nil {
		return wrapNetErr(err, "lg webos dial")
	}

	register := map[string]any{
		"type": "register",
		"id":   "register_0",
		"payload": map[string]any{
			"client-key": e.clientKey,
			"manifest": map[string]any{
				"manifestVersion": 1,
				"permissions": []string{
					"CONTROL_AUDIO", "CONTROL_POWER", "CONTROL_TV_SCREEN",
					"CONTROL_INPUT_TV", "READ_TV_CHANNEL_LIST", "READ_CURRENT_CHANNEL",
					"READ_INPUT_DEVICE_LIST", "READ_RUNNING_APPS",
				},
			},
		},
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(register); err != nil {
		_ = conn.Close()
		return wrapNetErr(err, "lg register")
	}
	for {
		var resp ssapEnvelope
		if err := conn.ReadJSON(&resp); err != nil {
			_ = conn.Close()
			return wrapNetErr(err, "lg register response")
		}
		switch resp.Type {
		case "registered":
			e.conn = conn
			return nil
		case "response":
			// PROMPT phase while the TV shows the pairing dialog
			continue
		case "error":
			_ = conn.Close()
			return Authf("lg webos rejected pairing key")
		}
	}
}

func (e *LGWebOSExecutor) reset() {
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
}

func (e *LGWebOSExecutor) Close() error {
	e.reset()
	return nil
}

// sendWakeOnLAN broadcasts a magic packet for the given canonical MAC.
func sendWakeOnLAN(mac string) error {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return Protocolf("wake-on-lan needs a MAC address: %v", err)
	}
	packet := make([]byte, 0, 102)
	packet = append(packet, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	conn, err := net.Dial("udp", "255.255.255.255:9")
	if err != nil {
		return wrapNetErr(err, "wake-on-lan")
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write(packet); err != nil {
		return wrapNetErr(err, "wake-on-lan")
	}
	return nil
}
