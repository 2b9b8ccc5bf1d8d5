package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	"hydroponics-cloud/internal/eventing"
)

// HistoryRecorder appends alert changes to the history store.
type HistoryRecorder struct {
	repo   alerts.HistoryRepository
	logger *zap.Logger
}

// NewHistoryRecorder constructs a recorder.
func NewHistoryRecorder(repo alerts.HistoryRepository, logger *zap.Logger) (*HistoryRecorder, error) {
	if repo == nil {
		return nil, errors.New("alert history: nil repo")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRecorder{repo: repo, logger: logger}, nil
}

// Register subscribes the recorder to alert events.
func (h *HistoryRecorder) Register(bus eventing.Bus) []eventing.Unsubscribe {
	return []eventing.Unsubscribe{
		eventing.SubscribeTyped(bus, h.HandleAlertRaised),
		eventing.SubscribeTyped(bus, h.HandleAlertCleared),
	}
}

// HandleAlertRaised records a raised alert.
func (h *HistoryRecorder) HandleAlertRaised(ctx context.Context, evt alertevents.AlertRaised) error {
	return h.append(ctx, &alerts.HistoryEntry{
		UserID:     evt.UserID,
		GroupID:    evt.GroupID,
		Parameter:  evt.Parameter,
		Action:     evt.Action,
		Event:      alerts.HistoryRaised,
		Message:    evt.Message,
		Severity:   evt.Severity,
		Current:    evt.Current,
		Target:     evt.Target,
		Magnitude:  evt.Magnitude,
		OccurredAt: evt.OccurredAt,
	})
}

// HandleAlertCleared records a cleared alert.
func (h *HistoryRecorder) HandleAlertCleared(ctx context.Context, evt alertevents.AlertCleared) error {
	return h.append(ctx, &alerts.HistoryEntry{
		UserID:     evt.UserID,
		GroupID:    evt.GroupID,
		Parameter:  evt.Parameter,
		Action:     evt.Action,
		Event:      alerts.HistoryCleared,
		OccurredAt: evt.OccurredAt,
	})
}

// History returns alert history of a group in [from, to).
func (h *HistoryRecorder) History(ctx context.Context, userID, groupID string, from, to time.Time) ([]alerts.HistoryEntry, error) {
	if userID == "" || groupID == "" {
		return nil, alerts.ErrMissingIdentifiers
	}
	if !to.After(from) {
		return nil, errors.New("alert history: to must be after from")
	}
	return h.repo.ListRange(ctx, userID, groupID, from.UTC(), to.UTC())
}

func (h *HistoryRecorder) append(ctx context.Context, entry *alerts.HistoryEntry) error {
	// envelope ids keep redelivered events idempotent
	if env, ok := eventing.EnvelopeFromContext(ctx); ok && env.EventID != "" {
		entry.ID = env.EventID
	} else {
		entry.ID = eventing.NewEventID()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	if err := h.repo.Append(ctx, entry); err != nil {
		h.logger.Warn("append alert history failed",
			zap.String("user_id", entry.UserID),
			zap.String("group_id", entry.GroupID),
			zap.String("parameter", entry.Parameter),
			zap.Error(err))
		return err
	}
	return nil
}
