package events

import "time"

// AlertRaised is emitted when a parameter starts alerting or its corrective action changes.
type AlertRaised struct {
	UserID    string  `json:"user_id"`
	GroupID   string  `json:"group_id"`
	Parameter string  `json:"parameter"`
	Action    string  `json:"action"`
	Message   string  `json:"message"`
	Current   float64 `json:"current"`
	Target    float64 `json:"target"`
	Magnitude float64 `json:"magnitude"`
	Severity  string  `json:"severity"`
	// CommandActive reports whether a pump command for Action is in effect.
	CommandActive bool      `json:"command_active"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AlertCleared is emitted when a parameter is back within tolerance.
type AlertCleared struct {
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	Parameter  string    `json:"parameter"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}
