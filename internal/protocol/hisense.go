// SPDX-License-Identifier: MIT

package protocol

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartvenue/venued/internal/model"
)

// hisenseKeyMap translates command kinds to VIDAA remote key names.
var hisenseKeyMap = map[model.CommandKind]string{
	model.KindPower:       "KEY_POWER",
	model.KindPowerOn:     "KEY_POWER",
	model.KindPowerOff:    "KEY_POWER",
	model.KindMute:        "KEY_MUTE",
	model.KindVolumeUp:    "KEY_VOLUMEUP",
	model.KindVolumeDown:  "KEY_VOLUMEDOWN",
	model.KindChannelUp:   "KEY_CHANNELUP",
	model.KindChannelDown: "KEY_CHANNELDOWN",
}

// Fixed service credentials of the TV-side broker.
const (
	hisenseUser = "hisenseservice"
	hisensePass = "multimqttservice"
)

// HisenseExecutor drives a VIDAA TV through the MQTT broker it runs on port
// 36669. The client connects lazily and stays up for the session.
type HisenseExecutor struct {
	host     string
	clientID string
	client   mqtt.Client
}

func NewHisenseExecutor(host, clientID string) *HisenseExecutor {
	if clientID == "" {
		clientID = "venued"
	}
	return &HisenseExecutor{host: host, clientID: clientID}
}

func (e *HisenseExecutor) Execute(ctx context.Context, cmd model.Command) error {
	if err := e.connect(ctx); err != nil {
		return err
	}
	if cmd.Kind == model.KindChannel {
		err := sendChannelDigits(ctx, cmd.Channel, func(ctx context.Context, d int) error {
			return e.sendKey(ctx, fmt.Sprintf("KEY_%d", d))
		})
		if err != nil {
			return err
		}
		return e.sendKey(ctx, "KEY_OK")
	}
	if cmd.Kind == model.KindNumber {
		return e.sendKey(ctx, fmt.Sprintf("KEY_%d", cmd.Digit))
	}
	key, ok := hisenseKeyMap[cmd.Kind]
	if !ok {
		return Unsupportedf("hisense vidaa cannot send %s", cmd.Kind)
	}
	return e.sendKey(ctx, key)
}

// ProbeStatus treats broker reachability as power-on; a dead broker means
// the panel is off or unplugged.
func (e *HisenseExecutor) ProbeStatus(ctx context.Context) (model.DeviceStatus, error) {
	if err := e.connect(ctx); err != nil {
		return model.DeviceStatus{}, err
	}
	return model.DeviceStatus{PowerState: model.PowerOn, CheckMethod: "hisense_mqtt"}, nil
}

func (e *HisenseExecutor) connect(ctx context.Context) error {
	if e.client != nil && e.client.IsConnected() {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:36669", e.host)).
		SetClientID(e.clientID).
		SetUsername(hisenseUser).
		SetPassword(hisensePass).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}). // TV presents a self-signed cert
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !waitToken(ctx, token) {
		client.Disconnect(0)
		return Timeoutf("hisense mqtt connect to %s", e.host)
	}
	if err := token.Error(); err != nil {
		return wrapNetErr(err, "hisense mqtt connect")
	}
	e.client = client
	return nil
}

func (e *HisenseExecutor) sendKey(ctx context.Context, key string) error {
	topic := fmt.Sprintf("/remoteapp/tv/remote_service/%s/actions/sendkey", e.clientID)
	payload, _ := json.Marshal(map[string]string{"key": key})
	token := e.client.Publish(topic, 0, false, payload)
	if !waitToken(ctx, token) {
		return Timeoutf("hisense key %s", key)
	}
	if err := token.Error(); err != nil {
		return wrapNetErr(err, "hisense key "+key)
	}
	return nil
}

// waitToken blocks on an MQTT token with the context deadline.
func waitToken(ctx context.Context, token mqtt.Token) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return token.WaitTimeout(10 * time.Second)
	}
	return token.WaitTimeout(time.Until(deadline))
}

func (e *HisenseExecutor) Close() error {
	if e.client != nil {
		e.client.Disconnect(250)
		e.client = nil
	}
	return nil
}
