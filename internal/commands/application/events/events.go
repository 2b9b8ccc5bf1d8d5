package events

import "time"

// ActuatorCommandIssued is emitted when a start command is written.
type ActuatorCommandIssued struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	CommandID  string    `json:"command_id"`
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Parameter  string    `json:"parameter"`
	Action     string    `json:"action"`
	Magnitude  float64   `json:"magnitude"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StopCommandIssued is emitted when a stop marker is written.
type StopCommandIssued struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	StopID     string    `json:"stop_id"`
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Action     string    `json:"action"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StopMarkerExpired is emitted when a stop marker is deleted after its delay.
type StopMarkerExpired struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	StopID     string    `json:"stop_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActuatorCommandCleared is emitted when an active command is removed outside the alert engine.
type ActuatorCommandCleared struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	DeviceType string    `json:"device_type"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}
