package alerts

import (
	"errors"
	"time"
)

var (
	// ErrNotWatched is returned for groups without a running session.
	ErrNotWatched = errors.New("alerts: group not watched")
	// ErrMissingIdentifiers is returned when user or group id is empty.
	ErrMissingIdentifiers = errors.New("alerts: missing user or group id")
)

// Severity of an active alert.
type Severity string

const (
	SeverityAction  Severity = "action"
	SeverityWarning Severity = "warning"
)

// ActiveAlert is the derived alert of one parameter of a group.
type ActiveAlert struct {
	UserID          string    `json:"userId"`
	GroupID         string    `json:"groupId"`
	Parameter       string    `json:"parameter"`
	TriggeredAction string    `json:"triggeredAction"`
	Message         string    `json:"message"`
	Current         float64   `json:"current"`
	CurrentText     string    `json:"currentText,omitempty"`
	Target          float64   `json:"target"`
	Magnitude       float64   `json:"magnitude"`
	Severity        Severity  `json:"severity"`
	Timestamp       time.Time `json:"timestamp"`
}
