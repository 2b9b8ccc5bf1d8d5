package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "hydroponics-cloud/internal/alerts/domain"
)

// HistoryRepository stores alert history in postgres.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts an entry; an entry with a known id is ignored.
func (r *HistoryRepository) Append(ctx context.Context, entry *alerts.HistoryEntry) error {
	if r == nil || r.db == nil {
		return errors.New("alert history repo: nil db")
	}
	if entry == nil {
		return errors.New("alert history repo: nil entry")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_history (
	id, user_id, group_id, parameter, action, event, message, severity,
	current_value, target_value, magnitude, occurred_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (id) DO NOTHING`,
		entry.ID, entry.UserID, entry.GroupID, entry.Parameter, entry.Action, string(entry.Event),
		entry.Message, entry.Severity, entry.Current, entry.Target, entry.Magnitude, entry.OccurredAt)
	return err
}

// ListRange returns entries with occurred_at in [from, to).
func (r *HistoryRepository) ListRange(ctx context.Context, userID, groupID string, from, to time.Time) ([]alerts.HistoryEntry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert history repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, group_id, parameter, action, event, message, severity,
	current_value, target_value, magnitude, occurred_at
FROM alert_history
WHERE user_id = $1 AND group_id = $2 AND occurred_at >= $3 AND occurred_at < $4
ORDER BY occurred_at ASC`, userID, groupID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.HistoryEntry
	for rows.Next() {
		var (
			entry alerts.HistoryEntry
			event string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.GroupID,
			&entry.Parameter,
			&entry.Action,
			&event,
			&entry.Message,
			&entry.Severity,
			&entry.Current,
			&entry.Target,
			&entry.Magnitude,
			&entry.OccurredAt,
		); err != nil {
			return nil, err
		}
		entry.Event = alerts.HistoryEvent(event)
		entry.OccurredAt = entry.OccurredAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}
