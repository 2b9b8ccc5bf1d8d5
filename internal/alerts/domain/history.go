package alerts

import (
	"context"
	"time"
)

// HistoryEvent is the kind of a history entry.
type HistoryEvent string

const (
	HistoryRaised  HistoryEvent = "raised"
	HistoryCleared HistoryEvent = "cleared"
)

// HistoryEntry records one alert change of a group.
type HistoryEntry struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	GroupID    string       `json:"groupId"`
	Parameter  string       `json:"parameter"`
	Action     string       `json:"action"`
	Event      HistoryEvent `json:"event"`
	Message    string       `json:"message,omitempty"`
	Severity   string       `json:"severity,omitempty"`
	Current    float64      `json:"current"`
	Target     float64      `json:"target"`
	Magnitude  float64      `json:"magnitude"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// HistoryRepository stores alert history.
type HistoryRepository interface {
	Append(ctx context.Context, entry *HistoryEntry) error
	ListRange(ctx context.Context, userID, groupID string, from, to time.Time) ([]HistoryEntry, error)
}
