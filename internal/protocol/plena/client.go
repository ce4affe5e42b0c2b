// SPDX-License-Identifier: MIT

package plena

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client exchanges UDP request/response pairs with one Plena Matrix
// amplifier. Sequence numbers increment monotonically and skip zero; the
// reply echoes the request sequence.
type Client struct {
	host string

	mu   sync.Mutex
	conn *net.UDPConn
	seq  uint16
}

func New(host string) *Client {
	return &Client{host: host}
}

// exchange sends one command and waits for the matching reply.
func (c *Client) exchange(ctx context.Context, cmd string, payload []byte) (string, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
		if err != nil {
			return "", nil, fmt.Errorf("plena listen: %w", err)
		}
		c.conn = conn
	}

	dst := &net.UDPAddr{IP: net.ParseIP(c.host), Port: RequestPort}
	if dst.IP == nil {
		addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", c.host)
		if err != nil || len(addrs) == 0 {
			return "", nil, fmt.Errorf("plena resolve %s: %w", c.host, err)
		}
		dst.IP = addrs[0]
	}

	c.seq = nextSeq(c.seq)
	packet, err := encodePacket(SubTypeMaster, c.seq, cmd, payload)
	if err != nil {
		return "", nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = c.conn.SetDeadline(deadline)

	if _, err := c.conn.WriteToUDP(packet, dst); err != nil {
		return "", nil, fmt.Errorf("plena send %s: %w", c.host, err)
	}

	buf := make([]byte, 2048)
	for {
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			return "", nil, fmt.Errorf("plena receive %s: %w", c.host, err)
		}
		h, replyCmd, replyPayload, err := decodePacket(buf[:n])
		if err != nil {
			continue // stray traffic on the response port
		}
		if h.Seq != c.seq {
			continue
		}
		return replyCmd, replyPayload, nil
	}
}

// Ping checks reachability.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.exchange(ctx, CmdPing, nil)
	return err
}

// What queries the device identity block.
func (c *Client) What(ctx context.Context) (DeviceInfo, error) {
	_, payload, err := c.exchange(ctx, CmdWhat, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	return parseWhat(payload)
}

// syncRequest asks for one SYNC record type.
func (c *Client) syncRequest(ctx context.Context, recordType uint16) ([]byte, error) {
	req := binary.BigEndian.AppendUint16(nil, recordType)
	_, payload, err := c.exchange(ctx, CmdSync, req)
	return payload, err
}

// ZoneNames fetches the SYNC 100 input and output name block.
func (c *Client) ZoneNames(ctx context.Context) (ZoneNames, error) {
	payload, err := c.syncRequest(ctx, 100)
	if err != nil {
		return ZoneNames{}, err
	}
	return parseSync100(payload)
}

// Presets fetches the SYNC 101 preset table.
func (c *Client) Presets(ctx context.Context) ([]Preset, error) {
	payload, err := c.syncRequest(ctx, 101)
	if err != nil {
		return nil, err
	}
	return parseSync101(payload)
}

// SetZoneGain writes a zone output gain. The payload carries the 1-based
// zone index and the gain in half-dB steps offset from -80 dB.
func (c *Client) SetZoneGain(ctx context.Context, zone int, db float32) error {
	if zone < 1 || zone > 4 {
		return fmt.Errorf("plena: zone %d out of range", zone)
	}
	steps := int16((db + 80) * 2)
	payload := []byte{byte(zone)}
	payload = binary.BigEndian.AppendUint16(payload, uint16(steps))
	_, _, err := c.exchange(ctx, CmdGain, payload)
	return err
}

// SetZoneMute writes a zone mute flag.
func (c *Client) SetZoneMute(ctx context.Context, zone int, muted bool) error {
	if zone < 1 || zone > 4 {
		return fmt.Errorf("plena: zone %d out of range", zone)
	}
	flag := byte(0)
	if muted {
		flag = 1
	}
	_, _, err := c.exchange(ctx, CmdMute, []byte{byte(zone), flag})
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
