// SPDX-License-Identifier: MIT

package espapi

// Native API message type identifiers. Only the subset the daemon uses.
const (
	msgHelloRequest              = 1
	msgHelloResponse             = 2
	msgConnectRequest            = 3
	msgConnectResponse           = 4
	msgDisconnectRequest         = 5
	msgDisconnectResponse        = 6
	msgPingRequest               = 7
	msgPingResponse              = 8
	msgDeviceInfoRequest         = 9
	msgDeviceInfoResponse        = 10
	msgListEntitiesRequest       = 11
	msgListEntitiesTextSensor    = 18
	msgListEntitiesDone          = 19
	msgSubscribeStatesRequest    = 20
	msgTextSensorStateResponse   = 27
	msgListEntitiesServices      = 41
	msgExecuteServiceRequest     = 42
)

// DeviceInfo is the decoded device_info response.
type DeviceInfo struct {
	Name           string
	MACAddress     string
	ESPHomeVersion string
	Model          string
}

// Service is a device-exposed RPC endpoint found during entity listing.
type Service struct {
	Name string
	Key  uint32
}

// TextSensor is a text-state channel found during entity listing.
type TextSensor struct {
	ObjectID string
	Key      uint32
	Name     string
}

// Entities is the result of a full entity listing.
type Entities struct {
	Services    []Service
	TextSensors []TextSensor
}

// ServiceArg is one argument of an execute_service call. Exactly one of the
// value fields is sent, selected by the fields the caller sets.
type ServiceArg struct {
	Bool   *bool
	Int    *int32
	Float  *float32
	String *string
}

func encodeHelloRequest(clientInfo string) []byte {
	var w protoWriter
	w.stringField(1, clientInfo)
	w.uintField(2, 1) // api_version_major
	w.uintField(3, 10)
	return w.buf
}

func encodeConnectRequest(password string) []byte {
	var w protoWriter
	w.stringField(1, password)
	return w.buf
}

func decodeConnectResponse(data []byte) (invalidPassword bool, err error) {
	fields, err := parseFields(data)
	if err != nil {
		return false, err
	}
	for _, f := range fields {
		if f.num == 1 && f.wire == 0 {
			invalidPassword = f.u != 0
		}
	}
	return invalidPassword, nil
}

func decodeDeviceInfoResponse(data []byte) (DeviceInfo, error) {
	var info DeviceInfo
	fields, err := parseFields(data)
	if err != nil {
		return info, err
	}
	for _, f := range fields {
		switch f.num {
		case 2:
			info.Name = f.str()
		case 3:
			info.MACAddress = f.str()
		case 4:
			info.ESPHomeVersion = f.str()
		case 8:
			info.Model = f.str()
		}
	}
	return info, nil
}

func decodeServiceEntity(data []byte) (Service, error) {
	var s Service
	fields, err := parseFields(data)
	if err != nil {
		return s, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			s.Name = f.str()
		case 2:
			s.Key = f.fixed32()
		}
	}
	return s, nil
}

func decodeTextSensorEntity(data []byte) (TextSensor, error) {
	var t TextSensor
	fields, err := parseFields(data)
	if err != nil {
		return t, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			t.ObjectID = f.str()
		case 2:
			t.Key = f.fixed32()
		case 3:
			t.Name = f.str()
		}
	}
	return t, nil
}

// TextSensorState is a single text-sensor state update.
type TextSensorState struct {
	Key          uint32
	State        string
	MissingState bool
}

func decodeTextSensorState(data []byte) (TextSensorState, error) {
	var st TextSensorState
	fields, err := parseFields(data)
	if err != nil {
		return st, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			st.Key = f.fixed32()
		case 2:
			st.State = f.str()
		case 3:
			st.MissingState = f.u != 0
		}
	}
	return st, nil
}

func encodeExecuteService(key uint32, args []ServiceArg) []byte {
	var w protoWriter
	w.fixed32Field(1, key)
	for _, a := range args {
		var aw protoWriter
		switch {
		case a.Bool != nil:
			aw.boolField(1, *a.Bool)
		case a.Int != nil:
			aw.uintFieldAlways(2, uint64(uint32(*a.Int)))
		case a.Float != nil:
			aw.floatField(3, *a.Float)
		case a.String != nil:
			aw.stringField(4, *a.String)
		}
		w.bytesField(2, aw.buf)
	}
	return w.buf
}

// Arg constructors keep call sites terse.

func ArgInt(v int) ServiceArg {
	i := int32(v)
	return ServiceArg{Int: &i}
}

func ArgString(v string) ServiceArg {
	return ServiceArg{String: &v}
}
