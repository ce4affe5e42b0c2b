// SPDX-License-Identifier: MIT

package ocp1

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommandLayout(t *testing.T) {
	pdu := encodeCommand(7, 0x00001234, methodSetGain, 1, paramFloat32(-20))

	require.Equal(t, byte(syncVal), pdu[0])
	assert.Equal(t, uint16(protocolVersion), binary.BigEndian.Uint16(pdu[1:3]))
	msgSize := binary.BigEndian.Uint32(pdu[3:7])
	assert.Equal(t, len(pdu)-1, int(msgSize), "message size counts everything after sync")
	assert.Equal(t, byte(msgTypeCommandRrq), pdu[7])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(pdu[8:10]))

	cmdSize := binary.BigEndian.Uint32(pdu[10:14])
	assert.Equal(t, uint32(21), cmdSize, "17 byte fixed part + 4 byte float")
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(pdu[14:18]), "handle")
	assert.Equal(t, uint32(0x1234), binary.BigEndian.Uint32(pdu[18:22]), "target ono")
	assert.Equal(t, uint16(4), binary.BigEndian.Uint16(pdu[22:24]), "tree level")
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(pdu[24:26]), "method index")
	assert.Equal(t, byte(1), pdu[26], "param count")
}

func TestDecodeResponseRoundTrip(t *testing.T) {
	params := paramFloat32(-12.5)
	respSize := 10 + len(params)
	body := make([]byte, 0, 9+respSize)
	body = binary.BigEndian.AppendUint16(body, protocolVersion)
	body = binary.BigEndian.AppendUint32(body, uint32(9+respSize))
	body = append(body, msgTypeResponse)
	body = binary.BigEndian.AppendUint16(body, 1)
	body = binary.BigEndian.AppendUint32(body, uint32(respSize))
	body = binary.BigEndian.AppendUint32(body, 42)
	body = append(body, statusOK, 1)
	body = append(body, params...)

	resp, err := decodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), resp.handle)
	assert.Equal(t, byte(statusOK), resp.status)

	v, _, err := readFloat32(resp.params)
	require.NoError(t, err)
	assert.InDelta(t, -12.5, v, 0.001)
}

func TestDecodeResponseKeepAlive(t *testing.T) {
	body := make([]byte, 0, 11)
	body = binary.BigEndian.AppendUint16(body, protocolVersion)
	body = binary.BigEndian.AppendUint32(body, 11)
	body = append(body, msgTypeKeepAlive)
	body = binary.BigEndian.AppendUint16(body, 1)
	body = binary.BigEndian.AppendUint16(body, 5) // heartbeat seconds

	_, err := decodeResponse(body)
	require.ErrorIs(t, err, errKeepAlive)
}

func TestZoneDisplayName(t *testing.T) {
	assert.Equal(t, "Zone 1", zoneDisplayName("Zone 1/Gain"))
	assert.Equal(t, "Bar Area", zoneDisplayName("Bar Area.Volume"))
	assert.Equal(t, "Output 3 Gain", zoneDisplayName("Output 3 Gain"))
}

func TestReadString(t *testing.T) {
	buf := binary.BigEndian.AppendUint16(nil, 6)
	buf = append(buf, "Zone 1"...)
	s, rest, err := readString(buf)
	require.NoError(t, err)
	assert.Equal(t, "Zone 1", s)
	assert.Empty(t, rest)

	_, _, err = readString(buf[:3])
	require.Error(t, err)
}
