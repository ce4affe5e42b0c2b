// SPDX-License-Identifier: MIT

// Package ocp1 implements the subset of the AES70 OCP.1 control protocol the
// daemon needs: command/response framing, gain and mute object access and
// the role-map walk used for zone discovery.
package ocp1

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	syncVal         = 0x3B
	protocolVersion = 1

	msgTypeCommandRrq = 1
	msgTypeResponse   = 3
	msgTypeKeepAlive  = 4

	statusOK = 0
)

// Well-known method IDs (tree level, method index).
var (
	methodGetRole             = methodID{1, 5} // OcaRoot.GetRole
	methodGetMembersRecursive = methodID{3, 6} // OcaBlock.GetMembersRecursive
	methodGetGain             = methodID{4, 1} // OcaGain.GetGain
	methodSetGain             = methodID{4, 2} // OcaGain.SetGain
	methodGetMuteState        = methodID{4, 1} // OcaMute.GetState
	methodSetMuteState        = methodID{4, 2} // OcaMute.SetState
)

// rootBlockONo is the fixed object number of the device's root block.
const rootBlockONo = 100

type methodID struct {
	treeLevel   uint16
	methodIndex uint16
}

// encodeCommand builds one PDU carrying a single command-requiring-response.
func encodeCommand(handle, targetONo uint32, method methodID, paramCount byte, params []byte) []byte {
	// command = size(4) + handle(4) + ono(4) + method(4) + paramCount(1) + params
	cmdSize := 17 + len(params)
	// message size counts everything after the sync byte
	msgSize := 9 + cmdSize

	buf := make([]byte, 0, 1+msgSize)
	buf = append(buf, syncVal)
	buf = binary.BigEndian.AppendUint16(buf, protocolVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(msgSize))
	buf = append(buf, msgTypeCommandRrq)
	buf = binary.BigEndian.AppendUint16(buf, 1) // message count

	buf = binary.BigEndian.AppendUint32(buf, uint32(cmdSize))
	buf = binary.BigEndian.AppendUint32(buf, handle)
	buf = binary.BigEndian.AppendUint32(buf, targetONo)
	buf = binary.BigEndian.AppendUint16(buf, method.treeLevel)
	buf = binary.BigEndian.AppendUint16(buf, method.methodIndex)
	buf = append(buf, paramCount)
	return append(buf, params...)
}

// response is one decoded OCP.1 response.
type response struct {
	handle uint32
	status byte
	params []byte
}

// decodeResponse parses the first response out of a PDU body (everything
// after the sync byte).
func decodeResponse(body []byte) (response, error) {
	var r response
	if len(body) < 9 {
		return r, fmt.Errorf("ocp1: short header (%d bytes)", len(body))
	}
	if v := binary.BigEndian.Uint16(body[0:2]); v != protocolVersion {
		return r, fmt.Errorf("ocp1: protocol version %d", v)
	}
	msgType := body[6]
	if msgType == msgTypeKeepAlive {
		return r, errKeepAlive
	}
	if msgType != msgTypeResponse {
		return r, fmt.Errorf("ocp1: unexpected message type %d", msgType)
	}
	payload := body[9:]
	if len(payload) < 10 {
		return r, fmt.Errorf("ocp1: short response (%d bytes)", len(payload))
	}
	respSize := binary.BigEndian.Uint32(payload[0:4])
	if int(respSize) > len(payload) {
		return r, fmt.Errorf("ocp1: truncated response (%d of %d bytes)", len(payload), respSize)
	}
	r.handle = binary.BigEndian.Uint32(payload[4:8])
	r.status = payload[8]
	// paramCount byte precedes the parameter block
	if respSize > 10 {
		r.params = payload[10:respSize]
	}
	return r, nil
}

var errKeepAlive = fmt.Errorf("ocp1: keepalive")

// Parameter encoding helpers. OCP.1 scalars are big-endian; strings carry a
// u16 length prefix.

func paramFloat32(v float32) []byte {
	return binary.BigEndian.AppendUint32(nil, math.Float32bits(v))
}

func readFloat32(b []byte) (float32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("ocp1: short float parameter")
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b[:4])), b[4:], nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("ocp1: short string length")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if len(b) < 2+n {
		return "", nil, fmt.Errorf("ocp1: truncated string (%d of %d bytes)", len(b)-2, n)
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}
