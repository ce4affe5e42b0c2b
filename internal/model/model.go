// SPDX-License-Identifier: MIT

// Package model defines the shared entities of the orchestration core:
// candidate devices, managed controllers, ports, queued commands, cached
// status, schedules and tags.
package model

import (
	"time"
)

// ControllerType identifies the family of a managed controller.
type ControllerType string

const (
	ControllerIRBlaster       ControllerType = "ir_blaster"
	ControllerNetworkTV       ControllerType = "network_tv"
	ControllerStreamingDevice ControllerType = "streaming_device"
	ControllerAudio           ControllerType = "audio"
)

// Protocol is the closed set of device control protocols.
type Protocol string

const (
	ProtocolSamsungLegacy    Protocol = "samsung_legacy"
	ProtocolSamsungWebsocket Protocol = "samsung_websocket"
	ProtocolLGWebOS          Protocol = "lg_webos"
	ProtocolSonyBravia       Protocol = "sony_bravia"
	ProtocolHisenseVidaa     Protocol = "hisense_vidaa"
	ProtocolPhilipsJointspace Protocol = "philips_jointspace"
	ProtocolRoku             Protocol = "roku"
	ProtocolVizioSmartcast   Protocol = "vizio_smartcast"
	ProtocolBoschAES70       Protocol = "bosch_aes70"
	ProtocolBoschPlenaMatrix Protocol = "bosch_plena_matrix"
)

// CommandKind enumerates the control operations a command can carry.
type CommandKind string

const (
	KindPower       CommandKind = "power"
	KindPowerOn     CommandKind = "power_on"
	KindPowerOff    CommandKind = "power_off"
	KindMute        CommandKind = "mute"
	KindVolumeUp    CommandKind = "volume_up"
	KindVolumeDown  CommandKind = "volume_down"
	KindChannelUp   CommandKind = "channel_up"
	KindChannelDown CommandKind = "channel_down"
	KindChannel     CommandKind = "channel"
	KindNumber      CommandKind = "number"
	KindDiagnostic  CommandKind = "diagnostic"
)

// CommandClass selects retry and priority behaviour at enqueue time.
type CommandClass string

const (
	ClassImmediate   CommandClass = "immediate"
	ClassInteractive CommandClass = "interactive"
	ClassBulk        CommandClass = "bulk"
	ClassSystem      CommandClass = "system"
)

// CommandStatus is the queue state machine.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusProcessing CommandStatus = "processing"
	StatusCompleted  CommandStatus = "completed"
	StatusFailed     CommandStatus = "failed"
)

// Adoptability buckets for candidate devices, derived from confidence scoring.
type Adoptability string

const (
	AdoptableReady       Adoptability = "ready"
	AdoptableNeedsConfig Adoptability = "needs_config"
	AdoptableUnlikely    Adoptability = "unlikely"
)

// PowerState is the cached last-known power state for a port or controller.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = "unknown"
)

// CandidateDevice is a device observed on the network but not yet managed.
// The canonical MAC address is the stable key; the IP address is mutable.
type CandidateDevice struct {
	ID              int64
	MACAddress      string
	IPAddress       string
	Hostname        string
	Vendor          string
	DeviceTypeGuess string
	OpenPorts       []int
	Confidence      int
	Adoptable       Adoptability
	Reasons         []string
	IsAdopted       bool
	IsHidden        bool
	FirstSeen       time.Time
	LastSeen        time.Time
}

// ManagedController is an adopted controller. ControllerID is the public
// identifier; the integer row ID stays internal to the store.
type ManagedController struct {
	ID             int64
	ControllerID   string
	ControllerType ControllerType
	Protocol       Protocol // empty for IR blasters
	IPAddress      string
	LastIPAddress  string
	MACAddress     string
	Location       string
	TotalPorts     int
	IsOnline       bool
	LastSeen       time.Time
	Capabilities   map[string]any
	CreatedAt      time.Time
}

// Port is a mapped device on a controller, indexed 1..N.
type Port struct {
	ID                  int64
	ControllerID        string
	PortNumber          int
	ConnectedDeviceName string
	IsActive            bool
	TagIDs              []int
	DefaultChannel      string
	ConnectionConfig    map[string]any
}

// Command is a queued work item.
type Command struct {
	ID              int64
	BatchID         string
	ControllerID    string
	PortNumber      int
	Kind            CommandKind
	Channel         string // preserves leading zeros: "007" != "7"
	Digit           int
	Class           CommandClass
	Priority        int
	Status          CommandStatus
	Attempts        int
	MaxAttempts     int
	ScheduledAt     *time.Time
	CreatedAt       time.Time
	LastAttemptAt   *time.Time
	CompletedAt     *time.Time
	Success         *bool
	ErrorMessage    string
	ExecutionTimeMS int64
	RoutingMethod   string
	UserIP          string
}

// PortStatus tracks last-known UI state per (controller, port).
type PortStatus struct {
	ControllerID       string
	PortNumber         int
	LastChannel        string
	LastCommand        string
	LastCommandAt      *time.Time
	LastPowerState     PowerState // empty when never observed
	LastPowerCommandAt *time.Time
}

// StatusCache is the per-controller real-time state written by pollers and
// read by every consumer of live device state.
type StatusCache struct {
	ControllerID   string
	IsOnline       bool
	PowerState     PowerState
	CurrentChannel string
	CurrentInput   string
	VolumeLevel    int
	IsMuted        bool
	LastCheckedAt  time.Time
	LastChangedAt  time.Time
	CheckMethod    string
	PollFailures   int
}

// TargetType selects how a schedule resolves its target ports.
type TargetType string

const (
	TargetAll       TargetType = "all"
	TargetSelection TargetType = "selection"
	TargetTag       TargetType = "tag"
	TargetLocation  TargetType = "location"
)

// TargetData carries the parameters for a schedule's target type.
type TargetData struct {
	DeviceIDs []int64  `json:"device_ids,omitempty"`
	TagIDs    []int    `json:"tag_ids,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// Action is one step of a schedule, expanded in declared order.
type Action struct {
	Kind      CommandKind `json:"kind"`
	Value     string      `json:"value,omitempty"`
	Repeat    int         `json:"repeat,omitempty"`     // 1..10
	WaitAfter int         `json:"wait_after,omitempty"` // seconds, >= 0
}

// Schedule is a cron-driven batch of actions against a resolved target set.
type Schedule struct {
	ID             int64
	Name           string
	CronExpression string
	TargetType     TargetType
	TargetData     TargetData
	Actions        []Action
	IsActive       bool
	LastRun        *time.Time
	NextRun        *time.Time
	CreatedAt      time.Time
}

// ScheduleExecution records one expansion of a schedule into a command batch.
type ScheduleExecution struct {
	ID            int64
	ScheduleID    int64
	BatchID       string
	TotalCommands int
	CreatedAt     time.Time
}

// Tag labels ports for schedule fan-out. UsageCount is a derived projection.
type Tag struct {
	ID         int
	Name       string
	Color      string
	UsageCount int
}

// BatchStatus is a projection over the commands sharing a batch ID.
type BatchStatus struct {
	BatchID   string
	Total     int
	Pending   int
	Processing int
	Completed int
	Failed    int
}

// Done reports whether every command in the batch reached a terminal state.
func (b BatchStatus) Done() bool {
	return b.Total > 0 && b.Completed+b.Failed == b.Total
}

// DeviceStatus is the result of one status poll against a device.
type DeviceStatus struct {
	PowerState     PowerState
	CurrentChannel string
	CurrentInput   string
	VolumeLevel    int
	IsMuted        bool
	CheckMethod    string
}

// DefaultMaxAttempts returns the retry budget for a command class.
func (c CommandClass) DefaultMaxAttempts() int {
	if c == ClassImmediate {
		return 1
	}
	return 3
}

// DefaultPriority returns the queue priority for a command class.
func (c CommandClass) DefaultPriority() int {
	if c == ClassInteractive {
		return 5
	}
	return 0
}

// IRServiceName maps a command kind to the IR blaster RPC service that
// carries it. Returns "" for kinds the blaster does not expose.
func IRServiceName(k CommandKind) string {
	switch k {
	case KindPower:
		return "tv_power"
	case KindPowerOn:
		return "tv_power_on"
	case KindPowerOff:
		return "tv_power_off"
	case KindMute:
		return "tv_mute"
	case KindVolumeUp:
		return "tv_volume_up"
	case KindVolumeDown:
		return "tv_volume_down"
	case KindChannelUp:
		return "tv_channel_up"
	case KindChannelDown:
		return "tv_channel_down"
	case KindChannel:
		return "tv_channel"
	case KindNumber:
		return "tv_number"
	case KindDiagnostic:
		return "diagnostic_signal"
	}
	return ""
}

// IRPortGPIO is the fixed GPIO assignment for the five IR output ports.
var IRPortGPIO = map[int]string{
	1: "GPIO13",
	2: "GPIO15",
	3: "GPIO12",
	4: "GPIO16",
	5: "GPIO5",
}
