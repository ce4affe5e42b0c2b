// SPDX-License-Identifier: MIT

package espapi

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Minimal protobuf wire helpers for the handful of native-API messages the
// daemon speaks. Wire types: 0 varint, 1 fixed64, 2 length-delimited,
// 5 fixed32.

type protoWriter struct {
	buf []byte
}

func (w *protoWriter) varint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *protoWriter) tag(field int, wire int) {
	w.varint(uint64(field)<<3 | uint64(wire))
}

func (w *protoWriter) stringField(field int, v string) {
	if v == "" {
		return
	}
	w.tag(field, 2)
	w.varint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

// bytesField always emits, even for empty payloads. Submessage arguments
// must keep their position in repeated fields.
func (w *protoWriter) bytesField(field int, v []byte) {
	w.tag(field, 2)
	w.varint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

// uintFieldAlways emits a varint field including zero values.
func (w *protoWriter) uintFieldAlways(field int, v uint64) {
	w.tag(field, 0)
	w.varint(v)
}

func (w *protoWriter) uintField(field int, v uint64) {
	if v == 0 {
		return
	}
	w.tag(field, 0)
	w.varint(v)
}

func (w *protoWriter) boolField(field int, v bool) {
	if !v {
		return
	}
	w.tag(field, 0)
	w.varint(1)
}

func (w *protoWriter) fixed32Field(field int, v uint32) {
	w.tag(field, 5)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *protoWriter) floatField(field int, v float32) {
	if v == 0 {
		return
	}
	w.fixed32Field(field, math.Float32bits(v))
}

// protoField is one decoded field occurrence.
type protoField struct {
	num  int
	wire int
	u    uint64 // varint or fixed32/64 payload
	b    []byte // length-delimited payload
}

func (f protoField) str() string     { return string(f.b) }
func (f protoField) fixed32() uint32 { return uint32(f.u) }

// parseFields walks a message and yields every field in order. Unknown
// fields are passed through untouched; callers pick what they need.
func parseFields(data []byte) ([]protoField, error) {
	var out []protoField
	for len(data) > 0 {
		key, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, fmt.Errorf("espapi: truncated field key")
		}
		data = data[n:]
		f := protoField{num: int(key >> 3), wire: int(key & 7)}
		switch f.wire {
		case 0:
			v, n := binary.Uvarint(data)
			if n <= 0 {
				return nil, fmt.Errorf("espapi: truncated varint in field %d", f.num)
			}
			f.u = v
			data = data[n:]
		case 1:
			if len(data) < 8 {
				return nil, fmt.Errorf("espapi: truncated fixed64 in field %d", f.num)
			}
			f.u = binary.LittleEndian.Uint64(data)
			data = data[8:]
		case 2:
			l, n := binary.Uvarint(data)
			if n <= 0 || uint64(len(data)-n) < l {
				return nil, fmt.Errorf("espapi: truncated bytes in field %d", f.num)
			}
			f.b = data[n : n+int(l)]
			data = data[n+int(l):]
		case 5:
			if len(data) < 4 {
				return nil, fmt.Errorf("espapi: truncated fixed32 in field %d", f.num)
			}
			f.u = uint64(binary.LittleEndian.Uint32(data))
			data = data[4:]
		default:
			return nil, fmt.Errorf("espapi: unsupported wire type %d in field %d", f.wire, f.num)
		}
		out = append(out, f)
	}
	return out, nil
}
