package events

import "time"

// GroupCreated is emitted when a group is created or renamed.
type GroupCreated struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeviceRegistered is emitted when a device is added to a group.
type DeviceRegistered struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	DeviceID   string    `json:"device_id"`
	Role       string    `json:"role"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeviceRemoved is emitted when a device is removed from a group.
type DeviceRemoved struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	DeviceID   string    `json:"device_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
