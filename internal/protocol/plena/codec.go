// SPDX-License-Identifier: MIT

// Package plena implements the Bosch Plena Matrix UDP control protocol:
// 10-byte big-endian framed packets on ports 12128 (request) and 12129
// (response), with 4-character ASCII commands.
package plena

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

const (
	// ProtocolID identifies the PLM-4Px2x family.
	ProtocolID = 0x5E41

	SubTypeMaster = 0x0001
	SubTypeSlave  = 0x0100

	RequestPort  = 12128
	ResponsePort = 12129

	headerLen = 10
)

// Known 4-character commands.
const (
	CmdPing = "PING"
	CmdWhat = "WHAT"
	CmdSync = "SYNC"
	CmdGain = "GAIN"
	CmdMute = "MUTE"
)

// header is the fixed packet prefix.
type header struct {
	ProtocolID uint16
	SubType    uint16
	Seq        uint16
	Reserved   uint16
	ChunkLen   uint16
}

// encodePacket assembles header, command and payload. ChunkLen counts the
// command and payload bytes.
func encodePacket(subType, seq uint16, cmd string, payload []byte) ([]byte, error) {
	if len(cmd) != 4 {
		return nil, fmt.Errorf("plena: command %q must be 4 ASCII characters", cmd)
	}
	buf := make([]byte, 0, headerLen+4+len(payload))
	buf = binary.BigEndian.AppendUint16(buf, ProtocolID)
	buf = binary.BigEndian.AppendUint16(buf, subType)
	buf = binary.BigEndian.AppendUint16(buf, seq)
	buf = binary.BigEndian.AppendUint16(buf, 0)
	buf = binary.BigEndian.AppendUint16(buf, uint16(4+len(payload)))
	buf = append(buf, cmd...)
	return append(buf, payload...), nil
}

// decodePacket splits a raw datagram into header, command and payload.
func decodePacket(data []byte) (header, string, []byte, error) {
	var h header
	if len(data) < headerLen+4 {
		return h, "", nil, fmt.Errorf("plena: packet too short (%d bytes)", len(data))
	}
	h.ProtocolID = binary.BigEndian.Uint16(data[0:2])
	h.SubType = binary.BigEndian.Uint16(data[2:4])
	h.Seq = binary.BigEndian.Uint16(data[4:6])
	h.Reserved = binary.BigEndian.Uint16(data[6:8])
	h.ChunkLen = binary.BigEndian.Uint16(data[8:10])
	if h.ProtocolID != ProtocolID {
		return h, "", nil, fmt.Errorf("plena: protocol id 0x%04X", h.ProtocolID)
	}
	if int(h.ChunkLen) > len(data)-headerLen {
		return h, "", nil, fmt.Errorf("plena: chunk length %d exceeds packet", h.ChunkLen)
	}
	cmd := string(data[headerLen : headerLen+4])
	payload := data[headerLen+4 : headerLen+int(h.ChunkLen)]
	return h, cmd, payload, nil
}

// nextSeq increments a sequence number, skipping zero.
func nextSeq(seq uint16) uint16 {
	seq++
	if seq == 0 {
		seq = 1
	}
	return seq
}

// DeviceInfo is the decoded WHAT response block.
type DeviceInfo struct {
	Firmware   string
	MAC        net.HardwareAddr
	IP         net.IP
	Subnet     net.IP
	Gateway    net.IP
	DHCP       bool
	Model      string
	Lockout    bool
	DeviceName string
	UserName   string
}

// modelFromCustom maps the custom byte to the hardware model.
func modelFromCustom(custom byte) string {
	switch custom {
	case 0x00:
		return "PLM-4P120"
	case 0x01:
		return "PLM-4P220"
	case 0x04:
		return "PLM-4P125"
	default:
		return fmt.Sprintf("PLM-unknown-0x%02X", custom)
	}
}

// whatBlockLen is firmware(4) + mac(6) + ip/subnet/gw(12) + dhcp(1) +
// custom(1) + lockout(1) + device_name(32) + user_name(81).
const whatBlockLen = 4 + 6 + 4 + 4 + 4 + 1 + 1 + 1 + 32 + 81

// parseWhat decodes the WHAT reply payload.
func parseWhat(payload []byte) (DeviceInfo, error) {
	var info DeviceInfo
	if len(payload) < whatBlockLen {
		return info, fmt.Errorf("plena: WHAT payload %d bytes, want %d", len(payload), whatBlockLen)
	}
	fw := payload[0:4]
	info.Firmware = fmt.Sprintf("%d.%d.%d.%d", fw[0], fw[1], fw[2], fw[3])
	info.MAC = net.HardwareAddr(bytes.Clone(payload[4:10]))
	info.IP = net.IPv4(payload[10], payload[11], payload[12], payload[13])
	info.Subnet = net.IPv4(payload[14], payload[15], payload[16], payload[17])
	info.Gateway = net.IPv4(payload[18], payload[19], payload[20], payload[21])
	info.DHCP = payload[22] != 0
	info.Model = modelFromCustom(payload[23])
	info.Lockout = payload[24] != 0
	info.DeviceName = cString(payload[25:57])
	info.UserName = cString(payload[57:138])
	return info, nil
}

// ZoneNames is the decoded SYNC 100 reply: four input and four output names.
type ZoneNames struct {
	Inputs  [4]string
	Outputs [4]string
}

// parseSync100 decodes a type byte followed by null-terminated UTF-8
// strings; the first four are inputs, the next four outputs.
func parseSync100(payload []byte) (ZoneNames, error) {
	var names ZoneNames
	if len(payload) < 1 {
		return names, fmt.Errorf("plena: empty SYNC 100 payload")
	}
	rest := payload[1:]
	for i := 0; i < 8; i++ {
		idx := bytes.IndexByte(rest, 0)
		if idx < 0 {
			return names, fmt.Errorf("plena: SYNC 100 truncated at name %d", i)
		}
		name := string(rest[:idx])
		rest = rest[idx+1:]
		if i < 4 {
			names.Inputs[i] = name
		} else {
			names.Outputs[i-4] = name
		}
	}
	return names, nil
}

// Preset is one stored DSP preset slot.
type Preset struct {
	Slot  int
	Valid bool
	Name  string
}

// parseSync101 decodes a type byte followed by up to eight 33-byte records
// of {validity, name[32]}.
func parseSync101(payload []byte) ([]Preset, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("plena: empty SYNC 101 payload")
	}
	rest := payload[1:]
	var presets []Preset
	for slot := 1; slot <= 8 && len(rest) >= 33; slot++ {
		presets = append(presets, Preset{
			Slot:  slot,
			Valid: rest[0] != 0,
			Name:  cString(rest[1:33]),
		})
		rest = rest[33:]
	}
	return presets, nil
}

// cString trims a fixed-width null-padded field.
func cString(b []byte) string {
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		b = b[:idx]
	}
	return string(b)
}
