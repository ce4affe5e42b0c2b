// SPDX-License-Identifier: MIT

package api

import (
	"time"

	"github.com/smartvenue/venued/internal/model"
)

type candidateDTO struct {
	MACAddress      string    `json:"mac_address"`
	IPAddress       string    `json:"ip_address"`
	Hostname        string    `json:"hostname,omitempty"`
	Vendor          string    `json:"vendor,omitempty"`
	DeviceTypeGuess string    `json:"device_type_guess,omitempty"`
	OpenPorts       []int     `json:"open_ports,omitempty"`
	Confidence      int       `json:"confidence"`
	Adoptable       string    `json:"adoptable"`
	Reasons         []string  `json:"reasons,omitempty"`
	IsAdopted       bool      `json:"is_adopted"`
	IsHidden        bool      `json:"is_hidden"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

func toCandidateDTO(c model.CandidateDevice) candidateDTO {
	return candidateDTO{
		MACAddress:      c.MACAddress,
		IPAddress:       c.IPAddress,
		Hostname:        c.Hostname,
		Vendor:          c.Vendor,
		DeviceTypeGuess: c.DeviceTypeGuess,
		OpenPorts:       c.OpenPorts,
		Confidence:      c.Confidence,
		Adoptable:       string(c.Adoptable),
		Reasons:         c.Reasons,
		IsAdopted:       c.IsAdopted,
		IsHidden:        c.IsHidden,
		FirstSeen:       c.FirstSeen,
		LastSeen:        c.LastSeen,
	}
}

type controllerDTO struct {
	ControllerID   string         `json:"controller_id"`
	ControllerType string         `json:"controller_type"`
	Protocol       string         `json:"protocol,omitempty"`
	IPAddress      string         `json:"ip_address"`
	LastIPAddress  string         `json:"last_ip_address,omitempty"`
	MACAddress     string         `json:"mac_address"`
	Location       string         `json:"location,omitempty"`
	TotalPorts     int            `json:"total_ports"`
	IsOnline       bool           `json:"is_online"`
	LastSeen       time.Time      `json:"last_seen"`
	Capabilities   map[string]any `json:"capabilities,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toControllerDTO(c model.ManagedController) controllerDTO {
	return controllerDTO{
		ControllerID:   c.ControllerID,
		ControllerType: string(c.ControllerType),
		Protocol:       string(c.Protocol),
		IPAddress:      c.IPAddress,
		LastIPAddress:  c.LastIPAddress,
		MACAddress:     c.MACAddress,
		Location:       c.Location,
		TotalPorts:     c.TotalPorts,
		IsOnline:       c.IsOnline,
		LastSeen:       c.LastSeen,
		Capabilities:   c.Capabilities,
		CreatedAt:      c.CreatedAt,
	}
}

type portDTO struct {
	PortNumber          int            `json:"port_number"`
	ConnectedDeviceName string         `json:"connected_device_name,omitempty"`
	IsActive            bool           `json:"is_active"`
	TagIDs              []int          `json:"tag_ids,omitempty"`
	DefaultChannel      string         `json:"default_channel,omitempty"`
	ConnectionConfig    map[string]any `json:"connection_config,omitempty"`
}

func toPortDTO(p model.Port) portDTO {
	cfg := p.ConnectionConfig
	// auth material never leaves the daemon
	if cfg != nil {
		redacted := make(map[string]any, len(cfg))
		for k, v := range cfg {
			if k == "auth_token" || k == "client_key" || k == "psk" {
				redacted[k] = "***"
				continue
			}
			redacted[k] = v
		}
		cfg = redacted
	}
	return portDTO{
		PortNumber:          p.PortNumber,
		ConnectedDeviceName: p.ConnectedDeviceName,
		IsActive:            p.IsActive,
		TagIDs:              p.TagIDs,
		DefaultChannel:      p.DefaultChannel,
		ConnectionConfig:    cfg,
	}
}

type commandDTO struct {
	ID              int64      `json:"id"`
	BatchID         string     `json:"batch_id,omitempty"`
	ControllerID    string     `json:"controller_id"`
	PortNumber      int        `json:"port_number"`
	Kind            string     `json:"kind"`
	Channel         string     `json:"channel,omitempty"`
	Digit           int        `json:"digit,omitempty"`
	Class           string     `json:"class"`
	Priority        int        `json:"priority"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Success         *bool      `json:"success,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ExecutionTimeMS int64      `json:"execution_time_ms,omitempty"`
	RoutingMethod   string     `json:"routing_method"`
}

func toCommandDTO(c model.Command) commandDTO {
	return commandDTO{
		ID:              c.ID,
		BatchID:         c.BatchID,
		ControllerID:    c.ControllerID,
		PortNumber:      c.PortNumber,
		Kind:            string(c.Kind),
		Channel:         c.Channel,
		Digit:           c.Digit,
		Class:           string(c.Class),
		Priority:        c.Priority,
		Status:          string(c.Status),
		Attempts:        c.Attempts,
		MaxAttempts:     c.MaxAttempts,
		ScheduledAt:     c.ScheduledAt,
		CreatedAt:       c.CreatedAt,
		CompletedAt:     c.CompletedAt,
		Success:         c.Success,
		ErrorMessage:    c.ErrorMessage,
		ExecutionTimeMS: c.ExecutionTimeMS,
		RoutingMethod:   c.RoutingMethod,
	}
}

type batchDTO struct {
	BatchID    string       `json:"batch_id"`
	Total      int          `json:"total"`
	Pending    int          `json:"pending"`
	Processing int          `json:"processing"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Done       bool         `json:"done"`
	Commands   []commandDTO `json:"commands,omitempty"`
}

type statusDTO struct {
	ControllerID   string    `json:"controller_id"`
	IsOnline       bool      `json:"is_online"`
	PowerState     string    `json:"power_state"`
	CurrentChannel string    `json:"current_channel,omitempty"`
	CurrentInput   string    `json:"current_input,omitempty"`
	VolumeLevel    int       `json:"volume_level"`
	IsMuted        bool      `json:"is_muted"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
	LastChangedAt  time.Time `json:"last_changed_at"`
	CheckMethod    string    `json:"check_method,omitempty"`
}

func toStatusDTO(sc model.StatusCache) statusDTO {
	return statusDTO{
		ControllerID:   sc.ControllerID,
		IsOnline:       sc.IsOnline,
		PowerState:     string(sc.PowerState),
		CurrentChannel: sc.CurrentChannel,
		CurrentInput:   sc.CurrentInput,
		VolumeLevel:    sc.VolumeLevel,
		IsMuted:        sc.IsMuted,
		LastCheckedAt:  sc.LastCheckedAt,
		LastChangedAt:  sc.LastChangedAt,
		CheckMethod:    sc.CheckMethod,
	}
}

type scheduleDTO struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	CronExpression string           `json:"cron_expression"`
	TargetType     string           `json:"target_type"`
	TargetData     model.TargetData `json:"target_data"`
	Actions        []model.Action   `json:"actions"`
	IsActive       bool             `json:"is_active"`
	LastRun        *time.Time       `json:"last_run,omitempty"`
	NextRun        *time.Time       `json:"next_run,omitempty"`
}

func toScheduleDTO(sc model.Schedule) scheduleDTO {
	return scheduleDTO{
		ID:             sc.ID,
		Name:           sc.Name,
		CronExpression: sc.CronExpression,
		TargetType:     string(sc.TargetType),
		TargetData:     sc.TargetData,
		Actions:        sc.Actions,
		IsActive:       sc.IsActive,
		LastRun:        sc.LastRun,
		NextRun:        sc.NextRun,
	}
}

type tagDTO struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	UsageCount int    `json:"usage_count"`
}
