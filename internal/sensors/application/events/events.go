package events

import (
	"time"

	sensors "hydroponics-cloud/internal/sensors/domain"
)

// SensorReadingRecorded is emitted after a reading is stored.
type SensorReadingRecorded struct {
	UserID     string         `json:"user_id"`
	GroupID    string         `json:"group_id"`
	ReadingID  string         `json:"reading_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Values     map[string]any `json:"values"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Reading converts the event back to a domain reading.
func (e SensorReadingRecorded) Reading() sensors.Reading {
	return sensors.Reading{
		ID:        e.ReadingID,
		UserID:    e.UserID,
		GroupID:   e.GroupID,
		Timestamp: e.Timestamp,
		Values:    e.Values,
	}
}

// ControlTargetChanged carries the full target snapshot after an update.
type ControlTargetChanged struct {
	UserID     string                `json:"user_id"`
	GroupID    string                `json:"group_id"`
	Target     sensors.ControlTarget `json:"target"`
	OccurredAt time.Time             `json:"occurred_at"`
}
