package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sensors "hydroponics-cloud/internal/sensors/domain"
)

// ReadingRepository stores sensor readings with their values as jsonb.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Save inserts a reading.
func (r *ReadingRepository) Save(ctx context.Context, reading *sensors.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	values, err := json.Marshal(reading.Values)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO sensor_data (id, user_id, group_id, ts, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, reading.ID, reading.UserID, reading.GroupID, reading.Timestamp, string(values))
	return err
}

// Latest returns the newest reading of a group or nil.
func (r *ReadingRepository) Latest(ctx context.Context, userID, groupID string) (*sensors.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, group_id, ts, payload
FROM sensor_data
WHERE user_id = $1 AND group_id = $2
ORDER BY ts DESC
LIMIT 1`, userID, groupID)
	return scanReading(row)
}

// ListRange returns readings in [from, to) ordered by time.
func (r *ReadingRepository) ListRange(ctx context.Context, userID, groupID string, from, to time.Time) ([]sensors.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, group_id, ts, payload
FROM sensor_data
WHERE user_id = $1 AND group_id = $2 AND ts >= $3 AND ts < $4
ORDER BY ts ASC`, userID, groupID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []sensors.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*sensors.Reading, error) {
	var reading sensors.Reading
	var values []byte
	if err := row.Scan(&reading.ID, &reading.UserID, &reading.GroupID, &reading.Timestamp, &values); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	reading.Timestamp = reading.Timestamp.UTC()
	if len(values) > 0 {
		if err := json.Unmarshal(values, &reading.Values); err != nil {
			return nil, err
		}
	}
	return &reading, nil
}
