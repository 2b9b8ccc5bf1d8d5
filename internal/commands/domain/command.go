package commands

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingIdentifiers indicates an empty user or group id.
	ErrMissingIdentifiers = errors.New("commands: missing user or group id")
	// ErrInvalidCommand indicates a command without device or action.
	ErrInvalidCommand = errors.New("commands: device type and action required")
)

// Key identifies the single outstanding command slot of a group.
type Key struct {
	UserID     string `json:"userId"`
	GroupID    string `json:"groupId"`
	DeviceType string `json:"deviceType"`
	Action     string `json:"action"`
}

// ActuatorCommand asks a pump to run a corrective action.
type ActuatorCommand struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	GroupID    string    `json:"groupId"`
	DeviceID   string    `json:"deviceId"`
	DeviceType string    `json:"deviceType"`
	Parameter  string    `json:"parameter"`
	Action     string    `json:"action"`
	Magnitude  float64   `json:"magnitude"`
	IssuedAt   time.Time `json:"timestamp"`
}

// Key returns the de-duplication key of the command.
func (c ActuatorCommand) Key() Key {
	return Key{UserID: c.UserID, GroupID: c.GroupID, DeviceType: c.DeviceType, Action: c.Action}
}

// Validate checks command invariants.
func (c ActuatorCommand) Validate() error {
	if c.UserID == "" || c.GroupID == "" {
		return ErrMissingIdentifiers
	}
	if c.DeviceType == "" || c.Action == "" || c.DeviceID == "" {
		return ErrInvalidCommand
	}
	return nil
}

// StopCommand signals a pump to cease an action. It expires shortly after being written.
type StopCommand struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	GroupID    string    `json:"groupId"`
	DeviceID   string    `json:"deviceId"`
	DeviceType string    `json:"deviceType"`
	Action     string    `json:"action"`
	IssuedAt   time.Time `json:"timestamp"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the marker is past its expiry.
func (s StopCommand) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Repository persists active commands and stop markers.
type Repository interface {
	// InsertActive writes the command unless one already exists for its key.
	InsertActive(ctx context.Context, cmd *ActuatorCommand) (bool, error)
	DeleteActive(ctx context.Context, key Key) (bool, error)
	ListActive(ctx context.Context, userID, groupID string) ([]ActuatorCommand, error)
	InsertStop(ctx context.Context, stop *StopCommand) error
	DeleteStop(ctx context.Context, id string) (bool, error)
	ListStops(ctx context.Context, userID, groupID string) ([]StopCommand, error)
	DeleteExpiredStops(ctx context.Context, before time.Time) (int, error)
}
