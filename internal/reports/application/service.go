package application

import (
	"context"
	"errors"
	"time"

	alerts "hydroponics-cloud/internal/alerts/domain"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

// ReadingSource lists readings of a group.
type ReadingSource interface {
	ListReadings(ctx context.Context, userID, groupID string, from, to time.Time) ([]sensors.Reading, error)
}

// HistorySource lists alert history of a group.
type HistorySource interface {
	History(ctx context.Context, userID, groupID string, from, to time.Time) ([]alerts.HistoryEntry, error)
}

// Report is the exported view of a group over a time range.
type Report struct {
	UserID      string
	GroupID     string
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Readings    []sensors.Reading
	Alerts      []alerts.HistoryEntry
}

// RaisedCount returns the number of raised alerts in the report.
func (r *Report) RaisedCount() int {
	count := 0
	for _, entry := range r.Alerts {
		if entry.Event == alerts.HistoryRaised {
			count++
		}
	}
	return count
}

// Service assembles reports.
type Service struct {
	readings ReadingSource
	history  HistorySource
	now      func() time.Time
}

// NewService constructs a report service. history may be nil.
func NewService(readings ReadingSource, history HistorySource) (*Service, error) {
	if readings == nil {
		return nil, errors.New("reports: nil reading source")
	}
	return &Service{
		readings: readings,
		history:  history,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Build loads readings and alert history of a group for [from, to).
func (s *Service) Build(ctx context.Context, userID, groupID string, from, to time.Time) (*Report, error) {
	if userID == "" || groupID == "" {
		return nil, sensors.ErrMissingIdentifiers
	}
	if !to.After(from) {
		return nil, errors.New("reports: to must be after from")
	}
	readings, err := s.readings.ListReadings(ctx, userID, groupID, from, to)
	if err != nil {
		return nil, err
	}
	report := &Report{
		UserID:      userID,
		GroupID:     groupID,
		From:        from,
		To:          to,
		GeneratedAt: s.now(),
		Readings:    readings,
	}
	if s.history != nil {
		entries, err := s.history.History(ctx, userID, groupID, from, to)
		if err != nil {
			return nil, err
		}
		report.Alerts = entries
	}
	return report, nil
}
