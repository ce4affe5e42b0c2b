// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/smartvenue/venued/internal/model"
)

// SamsungLegacyExecutor speaks the pre-Tizen remote protocol on TCP 55000.
// Frames are length-prefixed with base64-encoded fields; the TV closes the
// session after idle, so each command opens a fresh connection.
type SamsungLegacyExecutor struct {
	host string
}

func NewSamsungLegacyExecutor(host string) *SamsungLegacyExecutor {
	return &SamsungLegacyExecutor{host: host}
}

var samsungLegacyKeyMap = samsungKeyMap // same key code set as the websocket remote

func (e *SamsungLegacyExecutor) Execute(ctx context.Context, cmd model.Command) error {
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
	key, ok := samsungLegacyKeyMap[cmd.Kind]
	if !ok {
		return Unsupportedf("samsung legacy cannot send %s", cmd.Kind)
	}
	return e.sendKey(ctx, key)
}

func (e *SamsungLegacyExecutor) sendKey(ctx context.Context, key string) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(e.host, "55000"))
	if err != nil {
		return wrapNetErr(err, "samsung legacy dial")
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = conn.SetDeadline(deadline)

	local, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	if _, err := conn.Write(samsungLegacyAuthFrame(local)); err != nil {
		return wrapNetErr(err, "samsung legacy auth")
	}
	// The TV replies with an auth acknowledgement; drain it best effort.
	buf := make([]byte, 64)
	_, _ = conn.Read(buf)

	if _, err := conn.Write(samsungLegacyKeyFrame(key)); err != nil {
		return wrapNetErr(err, "samsung legacy key "+key)
	}
	return nil
}

const samsungLegacyAppID = "iphone.iapp.samsung"

// samsungLegacyAuthFrame builds the registration frame carrying the caller's
// IP, a client id and the display name, each base64 encoded with a u16
// little-endian length prefix.
func samsungLegacyAuthFrame(localIP string) []byte {
	payload := []byte{0x64, 0x00}
	payload = appendLegacyString(payload, base64.StdEncoding.EncodeToString([]byte(localIP)))
	payload = appendLegacyString(payload, base64.StdEncoding.EncodeToString([]byte(samsungClientName)))
	payload = appendLegacyString(payload, base64.StdEncoding.EncodeToString([]byte(samsungClientName)))

	frame := []byte{0x00}
	frame = appendLegacyString(frame, samsungLegacyAppID)
	return appendLegacyBytes(frame, payload)
}

// samsungLegacyKeyFrame builds a single key-press frame.
func samsungLegacyKeyFrame(key string) []byte {
	payload := []byte{0x00, 0x00, 0x00}
	payload = appendLegacyString(payload, base64.StdEncoding.EncodeToString([]byte(key)))

	frame := []byte{0x00}
	frame = appendLegacyString(frame, samsungLegacyAppID)
	return appendLegacyBytes(frame, payload)
}

func appendLegacyString(buf []byte, s string) []byte {
	return appendLegacyBytes(buf, []byte(s))
}

func appendLegacyBytes(buf, b []byte) []byte {
	buf = append(buf, byte(len(b)), byte(len(b)>>8))
	return append(buf, b...)
}

func (e *SamsungLegacyExecutor) Close() error { return nil }
