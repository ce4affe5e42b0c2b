// SPDX-License-Identifier: MIT

package adoption

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartvenue/venued/internal/model"
	"github.com/smartvenue/venued/internal/protocol"
)

// The websocket handshake can raise a pairing dialog on the panel, so it
// gets a much longer budget than the plain TCP fallback.
const (
	samsungWSTimeout  = 30 * time.Second
	samsungTCPTimeout = 3 * time.Second
)

// samsungGreeting is the first control-channel frame of both websocket
// generations.
type samsungGreeting struct {
	Event string `json:"event"`
	Data  struct {
		Token string `json:"token"`
	} `json:"data"`
}

// probeSamsung walks the protocol ladder: wss 8002 (token generation), ws
// 8001 (older Tizen), TCP 55000 (legacy). Returns the confirmed protocol and
// the auth token when the TV issued one.
func probeSamsung(ctx context.Context, ip string) (model.Protocol, string, error) {
	token, err := samsungWSHandshake(ctx, "wss", ip, 8002)
	if err == nil {
		return model.ProtocolSamsungWebsocket, token, nil
	}
	wssErr := err

	if _, err := samsungWSHandshake(ctx, "ws", ip, 8001); err == nil {
		return model.ProtocolSamsungWebsocket, "", nil
	}

	d := net.Dialer{Timeout: samsungTCPTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, "55000"))
	if err == nil {
		_ = conn.Close()
		return model.ProtocolSamsungLegacy, "", nil
	}

	return "", "", fmt.Errorf("no samsung endpoint answered: %w", wssErr)
}

// samsungWSHandshake opens the remote-control channel and reads the greeting
// frame. The user may have to accept a pairing dialog on the TV before the
// frame arrives.
func samsungWSHandshake(ctx context.Context, scheme, ip string, port int) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, samsungWSTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, // self-signed panel cert
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(dialCtx, protocol.SamsungRemoteURL(scheme, ip, port, ""), nil)
	if err != nil {
		return "", fmt.Errorf("dial %s:%d: %w", ip, port, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var greeting samsungGreeting
	if err := conn.ReadJSON(&greeting); err != nil {
		return "", fmt.Errorf("greeting: %w", err)
	}
	switch greeting.Event {
	case "ms.channel.connect":
		return greeting.Data.Token, nil
	case "ms.channel.unauthorized":
		return "", fmt.Errorf("pairing rejected on the panel")
	default:
		return "", fmt.Errorf("unexpected greeting %q", greeting.Event)
	}
}
