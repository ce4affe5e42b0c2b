// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartvenue/venued/internal/model"
)

const samsungClientName = "venued"

// samsungKeyMap translates command kinds to Tizen remote key codes.
var samsungKeyMap = map[model.CommandKind]string{
	model.KindPower:       "KEY_POWER",
	model.KindPowerOn:     "KEY_POWER",
	model.KindPowerOff:    "KEY_POWEROFF",
	model.KindMute:        "KEY_MUTE",
	model.KindVolumeUp:    "KEY_VOLUP",
	model.KindVolumeDown:  "KEY_VOLDOWN",
	model.KindChannelUp:   "KEY_CHUP",
	model.KindChannelDown: "KEY_CHDOWN",
}

// SamsungWSExecutor speaks the Tizen remote-control WebSocket, preferring
// WSS on 8002 with a stored auth token and falling back to plain WS on 8001.
type SamsungWSExecutor struct {
	host  string
	token string
	conn  *websocket.Conn
}

// NewSamsungWSExecutor builds an executor. token may be empty on TVs that
// never issued one.
func NewSamsungWSExecutor(host, token string) *SamsungWSExecutor {
	return &SamsungWSExecutor{host: host, token: token}
}

// SamsungRemoteURL assembles the remote-control endpoint for a given scheme
// and port. Shared with the adoption probe.
func SamsungRemoteURL(scheme, host string, port int, token string) string {
	name := base64.StdEncoding.EncodeToString([]byte(samsungClientName))
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(host, fmt.Sprint(port)),
		Path:     "/api/v2/channels/samsung.remote.control",
		RawQuery: "name=" + name,
	}
	if token != "" {
		u.RawQuery += "&token=" + url.QueryEscape(token)
	}
	return u.String()
}

func (e *SamsungWSExecutor) Execute(ctx context.Context, cmd model.Command) error {
	if err := e.connect(ctx); err != nil {
		return err
	}
	if cmd.Kind == model.KindChannel {
		err := sendChannelDigits(ctx, cmd.Channel, func(ctx context.Context, d int) error {
			return e.sendKey(ctx, fmt.Sprintf("KEY_%d", d))
		})
		if err != nil {
			return err
		}
		return e.sendKey(ctx, "KEY_ENTER")
	}
	if cmd.Kind == model.KindNumber {
		return e.sendKey(ctx, fmt.Sprintf("KEY_%d", cmd.Digit))
	}
	key, ok := samsungKeyMap[cmd.Kind]
	if !ok {
		return Unsupportedf("samsung websocket cannot send %s", cmd.Kind)
	}
	return e.sendKey(ctx, key)
}

// connect opens the session lazily and waits for the ms.channel.connect
// greeting. A token rejection surfaces as an auth error.
func (e *SamsungWSExecutor) connect(ctx context.Context) error {
	if e.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, // self-signed TV cert
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, SamsungRemoteURL("wss", e.host, 8002, e.token), nil)
	if err != nil {
		conn, _, err = dialer.DialContext(ctx, SamsungRemoteURL("ws", e.host, 8001, e.token), nil)
	}
	if err != nil {
		return wrapNetErr(err, "samsung websocket dial")
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetReadDeadline(deadline)

	var greeting struct {
		Event string `json:"event"`
	}
	if err := conn.ReadJSON(&greeting); err != nil {
		_ = conn.Close()
		return wrapNetErr(err, "samsung greeting")
	}
	if greeting.Event == "ms.channel.unauthorized" {
		_ = conn.Close()
		return Authf("samsung tv rejected token")
	}
	if greeting.Event != "ms.channel.connect" {
		_ = conn.Close()
		return Protocolf("unexpected samsung greeting %q", greeting.Event)
	}
	e.conn = conn
	return nil
}

func (e *SamsungWSExecutor) sendKey(ctx context.Context, key string) error {
	frame := map[string]any{
		"method": "ms.remote.control",
		"params": map[string]string{
			"Cmd":          "Click",
			"DataOfCmd":    key,
			"Option":       "false",
			"TypeOfRemote": "SendRemoteKey",
		},
	}
	payload, _ := json.Marshal(frame)
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = e.conn.SetWriteDeadline(deadline)
	if err := e.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = e.conn.Close()
		e.conn = nil
		return wrapNetErr(err, "samsung key "+key)
	}
	return nil
}

func (e *SamsungWSExecutor) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}
