// SPDX-License-Identifier: MIT

// Package espapi is a minimal client for the ESPHome native API, covering
// the calls the daemon needs: handshake, device info, entity listing,
// service execution and text-sensor state subscription.
package espapi

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultPort is the native API TCP port.
const DefaultPort = 6053

// Client is a single native-API session. Not safe for concurrent use; the
// caller serialises access.
type Client struct {
	addr     string
	password string

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// New builds a client for host. A bare host gets the default port.
func New(host, password string) *Client {
	addr := host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(host, fmt.Sprint(DefaultPort))
	}
	return &Client{addr: addr, password: password}
}

// Connect dials the device and completes the hello/connect handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("espapi dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)

	if err := c.handshake(ctx); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	if err := c.writeFrame(ctx, msgHelloRequest, encodeHelloRequest("venued")); err != nil {
		return err
	}
	if _, _, err := c.expect(ctx, msgHelloResponse); err != nil {
		return err
	}
	if err := c.writeFrame(ctx, msgConnectRequest, encodeConnectRequest(c.password)); err != nil {
		return err
	}
	_, payload, err := c.expect(ctx, msgConnectResponse)
	if err != nil {
		return err
	}
	invalid, err := decodeConnectResponse(payload)
	if err != nil {
		return err
	}
	if invalid {
		return fmt.Errorf("espapi %s: password rejected", c.addr)
	}
	return nil
}

// Close sends a disconnect and tears the session down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	// Best effort; the device drops the session either way.
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	frame := encodeFrame(msgDisconnectRequest, nil)
	_, _ = c.conn.Write(frame)
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

// DeviceInfo fetches name, MAC, firmware version and model.
func (c *Client) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	if err := c.Connect(ctx); err != nil {
		return DeviceInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeFrame(ctx, msgDeviceInfoRequest, nil); err != nil {
		return DeviceInfo{}, err
	}
	_, payload, err := c.expect(ctx, msgDeviceInfoResponse)
	if err != nil {
		return DeviceInfo{}, err
	}
	return decodeDeviceInfoResponse(payload)
}

// ListEntities walks the entity listing until the done marker, collecting
// services and text sensors.
func (c *Client) ListEntities(ctx context.Context) (Entities, error) {
	if err := c.Connect(ctx); err != nil {
		return Entities{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeFrame(ctx, msgListEntitiesRequest, nil); err != nil {
		return Entities{}, err
	}

	var ents Entities
	for {
		msgType, payload, err := c.readFrame(ctx)
		if err != nil {
			return ents, err
		}
		switch msgType {
		case msgListEntitiesDone:
			return ents, nil
		case msgListEntitiesServices:
			svc, err := decodeServiceEntity(payload)
			if err != nil {
				return ents, err
			}
			ents.Services = append(ents.Services, svc)
		case msgListEntitiesTextSensor:
			ts, err := decodeTextSensorEntity(payload)
			if err != nil {
				return ents, err
			}
			ents.TextSensors = append(ents.TextSensors, ts)
		default:
			// other entity kinds are not interesting here
		}
	}
}

// ExecuteService invokes a device-exposed service by key. The native API
// gives no acknowledgement; a successful write is success.
func (c *Client) ExecuteService(ctx context.Context, key uint32, args ...ServiceArg) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeFrame(ctx, msgExecuteServiceRequest, encodeExecuteService(key, args))
}

// WatchTextSensor subscribes to states and waits for the first update of the
// text sensor identified by key, bounded by the context deadline.
func (c *Client) WatchTextSensor(ctx context.Context, key uint32) (string, error) {
	if err := c.Connect(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeFrame(ctx, msgSubscribeStatesRequest, nil); err != nil {
		return "", err
	}
	for {
		msgType, payload, err := c.readFrame(ctx)
		if err != nil {
			return "", err
		}
		if msgType != msgTextSensorStateResponse {
			continue
		}
		st, err := decodeTextSensorState(payload)
		if err != nil {
			return "", err
		}
		if st.Key == key && !st.MissingState {
			return st.State, nil
		}
	}
}

// Ping round-trips a keepalive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeFrame(ctx, msgPingRequest, nil); err != nil {
		return err
	}
	_, _, err := c.expect(ctx, msgPingResponse)
	return err
}

// Frame layout: 0x00, varint payload length, varint message type, payload.
func encodeFrame(msgType int, payload []byte) []byte {
	buf := []byte{0x00}
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = binary.AppendUvarint(buf, uint64(msgType))
	return append(buf, payload...)
}

func (c *Client) writeFrame(ctx context.Context, msgType int, payload []byte) error {
	if err := c.applyDeadline(ctx); err != nil {
		return err
	}
	if _, err := c.conn.Write(encodeFrame(msgType, payload)); err != nil {
		c.closeLocked()
		return fmt.Errorf("espapi write %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) readFrame(ctx context.Context) (int, []byte, error) {
	if err := c.applyDeadline(ctx); err != nil {
		return 0, nil, err
	}
	preamble, err := c.r.ReadByte()
	if err != nil {
		c.closeLocked()
		return 0, nil, fmt.Errorf("espapi read %s: %w", c.addr, err)
	}
	if preamble != 0x00 {
		c.closeLocked()
		return 0, nil, fmt.Errorf("espapi %s: bad preamble 0x%02x (encrypted device?)", c.addr, preamble)
	}
	length, err := binary.ReadUvarint(c.r)
	if err != nil {
		c.closeLocked()
		return 0, nil, fmt.Errorf("espapi read %s: %w", c.addr, err)
	}
	msgType, err := binary.ReadUvarint(c.r)
	if err != nil {
		c.closeLocked()
		return 0, nil, fmt.Errorf("espapi read %s: %w", c.addr, err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		c.closeLocked()
		return 0, nil, fmt.Errorf("espapi read %s: %w", c.addr, err)
	}
	return int(msgType), payload, nil
}

// expect reads frames until one of the wanted type arrives, skipping
// unsolicited state broadcasts.
func (c *Client) expect(ctx context.Context, msgType int) (int, []byte, error) {
	for {
		t, payload, err := c.readFrame(ctx)
		if err != nil {
			return 0, nil, err
		}
		if t == msgType {
			return t, payload, nil
		}
	}
}

func (c *Client) applyDeadline(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("espapi %s: not connected", c.addr)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	return c.conn.SetDeadline(deadline)
}
