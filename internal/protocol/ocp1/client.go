// SPDX-License-Identifier: MIT

package ocp1

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// DefaultPort is the AES70 control port on Bosch amplifiers.
const DefaultPort = 65000

// Client is one long-lived OCP.1 session. Calls are serialised internally;
// the amplifier processes one command at a time anyway.
type Client struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	handle uint32
}

// New builds a client for host. A bare host gets the default port.
func New(host string) *Client {
	addr := host
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(host, fmt.Sprint(DefaultPort))
	}
	return &Client{addr: addr}
}

// Connect dials the amplifier if no session is up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("ocp1 dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}

// call sends one command and waits for its response, skipping keepalives.
func (c *Client) call(ctx context.Context, targetONo uint32, method methodID, paramCount byte, params []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = c.conn.SetDeadline(deadline)

	c.handle++
	handle := c.handle
	if _, err := c.conn.Write(encodeCommand(handle, targetONo, method, paramCount, params)); err != nil {
		c.resetLocked()
		return nil, fmt.Errorf("ocp1 write %s: %w", c.addr, err)
	}

	for {
		body, err := c.readPDU()
		if err != nil {
			c.resetLocked()
			return nil, err
		}
		resp, err := decodeResponse(body)
		if errors.Is(err, errKeepAlive) {
			continue
		}
		if err != nil {
			c.resetLocked()
			return nil, err
		}
		if resp.handle != handle {
			continue // stale response from an interrupted call
		}
		if resp.status != statusOK {
			return nil, fmt.Errorf("ocp1 %s: device status %d", c.addr, resp.status)
		}
		return resp.params, nil
	}
}

// readPDU reads one sync-delimited PDU body from the wire.
func (c *Client) readPDU() ([]byte, error) {
	sync, err := c.r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("ocp1 read %s: %w", c.addr, err)
	}
	if sync != syncVal {
		return nil, fmt.Errorf("ocp1 %s: bad sync byte 0x%02x", c.addr, sync)
	}
	header := make([]byte, 6)
	if _, err := io.ReadFull(c.r, header); err != nil {
		return nil, fmt.Errorf("ocp1 read %s: %w", c.addr, err)
	}
	msgSize := binary.BigEndian.Uint32(header[2:6])
	if msgSize < 6 || msgSize > 1<<20 {
		return nil, fmt.Errorf("ocp1 %s: implausible message size %d", c.addr, msgSize)
	}
	rest := make([]byte, msgSize-6)
	if _, err := io.ReadFull(c.r, rest); err != nil {
		return nil, fmt.Errorf("ocp1 read %s: %w", c.addr, err)
	}
	return append(header, rest...), nil
}

func (c *Client) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

// GetGain reads an OcaGain actuator: current level plus its device-reported
// range.
func (c *Client) GetGain(ctx context.Context, ono uint32) (value, min, max float32, err error) {
	params, err := c.call(ctx, ono, methodGetGain, 0, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	rest := params
	if value, rest, err = readFloat32(rest); err != nil {
		return 0, 0, 0, err
	}
	if min, rest, err = readFloat32(rest); err != nil {
		return 0, 0, 0, err
	}
	if max, _, err = readFloat32(rest); err != nil {
		return 0, 0, 0, err
	}
	return value, min, max, nil
}

// SetGain writes an OcaGain level in dB.
func (c *Client) SetGain(ctx context.Context, ono uint32, db float32) error {
	_, err := c.call(ctx, ono, methodSetGain, 1, paramFloat32(db))
	return err
}

// Mute state enum per OcaMute.
const (
	MuteStateMuted   = 1
	MuteStateUnmuted = 2
)

// GetMute reads an OcaMute actuator state.
func (c *Client) GetMute(ctx context.Context, ono uint32) (muted bool, err error) {
	params, err := c.call(ctx, ono, methodGetMuteState, 0, nil)
	if err != nil {
		return false, err
	}
	if len(params) < 1 {
		return false, fmt.Errorf("ocp1 %s: empty mute state", c.addr)
	}
	return params[0] == MuteStateMuted, nil
}

// SetMute writes an OcaMute actuator state.
func (c *Client) SetMute(ctx context.Context, ono uint32, muted bool) error {
	state := byte(MuteStateUnmuted)
	if muted {
		state = MuteStateMuted
	}
	_, err := c.call(ctx, ono, methodSetMuteState, 1, []byte{state})
	return err
}

// GetRole reads an object's role string.
func (c *Client) GetRole(ctx context.Context, ono uint32) (string, error) {
	params, err := c.call(ctx, ono, methodGetRole, 0, nil)
	if err != nil {
		return "", err
	}
	role, _, err := readString(params)
	return role, err
}

// Members lists the object numbers reachable from the root block,
// recursively. Class identification data in each record is skipped; only
// the object numbers matter for the role walk.
func (c *Client) Members(ctx context.Context) ([]uint32, error) {
	params, err := c.call(ctx, rootBlockONo, methodGetMembersRecursive, 0, nil)
	if err != nil {
		return nil, err
	}
	if len(params) < 2 {
		return nil, fmt.Errorf("ocp1 %s: empty member list", c.addr)
	}
	count := int(binary.BigEndian.Uint16(params[:2]))
	rest := params[2:]
	onos := make([]uint32, 0, count)
	for i := 0; i < count; i++ {
		// OcaBlockMember = object identification {ONo u32, classID, classVersion u16}
		if len(rest) < 4 {
			return nil, fmt.Errorf("ocp1 %s: truncated member list", c.addr)
		}
		onos = append(onos, binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
		// class identification: u16 field count + fields, then version
		if len(rest) < 2 {
			return nil, fmt.Errorf("ocp1 %s: truncated class id", c.addr)
		}
		fields := int(binary.BigEndian.Uint16(rest[:2]))
		skip := 2 + fields*2 + 2
		if len(rest) < skip {
			return nil, fmt.Errorf("ocp1 %s: truncated class id", c.addr)
		}
		rest = rest[skip:]
	}
	return onos, nil
}
