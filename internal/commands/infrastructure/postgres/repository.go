package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	commands "hydroponics-cloud/internal/commands/domain"
)

// CommandRepository is a Postgres implementation for active commands and stop markers.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// InsertActive writes the command; the unique key on (user_id, group_id, device_type, action)
// turns a duplicate into a no-op.
func (r *CommandRepository) InsertActive(ctx context.Context, cmd *commands.ActuatorCommand) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	if cmd == nil {
		return false, errors.New("command repo: nil command")
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO active_commands (
	id, user_id, group_id, device_id, device_type, parameter, action, magnitude, issued_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (user_id, group_id, device_type, action) DO NOTHING`,
		cmd.ID, cmd.UserID, cmd.GroupID, cmd.DeviceID, cmd.DeviceType, cmd.Parameter, cmd.Action, cmd.Magnitude, cmd.IssuedAt)
	if err != nil {
		return false, err
	}
	count, _ := result.RowsAffected()
	return count > 0, nil
}

// DeleteActive removes the active command of a key.
func (r *CommandRepository) DeleteActive(ctx context.Context, key commands.Key) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM active_commands
WHERE user_id = $1 AND group_id = $2 AND device_type = $3 AND action = $4`,
		key.UserID, key.GroupID, key.DeviceType, key.Action)
	if err != nil {
		return false, err
	}
	count, _ := result.RowsAffected()
	return count > 0, nil
}

// ListActive lists outstanding commands of a group.
func (r *CommandRepository) ListActive(ctx context.Context, userID, groupID string) ([]commands.ActuatorCommand, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, group_id, device_id, device_type, parameter, action, magnitude, issued_at
FROM active_commands
WHERE user_id = $1 AND group_id = $2
ORDER BY issued_at ASC`, userID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commands.ActuatorCommand
	for rows.Next() {
		var cmd commands.ActuatorCommand
		if err := rows.Scan(
			&cmd.ID,
			&cmd.UserID,
			&cmd.GroupID,
			&cmd.DeviceID,
			&cmd.DeviceType,
			&cmd.Parameter,
			&cmd.Action,
			&cmd.Magnitude,
			&cmd.IssuedAt,
		); err != nil {
			return nil, err
		}
		cmd.IssuedAt = cmd.IssuedAt.UTC()
		result = append(result, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// InsertStop writes a stop marker.
func (r *CommandRepository) InsertStop(ctx context.Context, stop *commands.StopCommand) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if stop == nil {
		return errors.New("command repo: nil stop")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO stop_commands (
	id, user_id, group_id, device_id, device_type, action, issued_at, expires_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, stop.ID, stop.UserID, stop.GroupID, stop.DeviceID, stop.DeviceType, stop.Action, stop.IssuedAt, stop.ExpiresAt)
	return err
}

// DeleteStop removes a stop marker by id.
func (r *CommandRepository) DeleteStop(ctx context.Context, id string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM stop_commands WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	count, _ := result.RowsAffected()
	return count > 0, nil
}

// ListStops lists stop markers of a group.
func (r *CommandRepository) ListStops(ctx context.Context, userID, groupID string) ([]commands.StopCommand, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, group_id, device_id, device_type, action, issued_at, expires_at
FROM stop_commands
WHERE user_id = $1 AND group_id = $2
ORDER BY issued_at ASC`, userID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []commands.StopCommand
	for rows.Next() {
		var stop commands.StopCommand
		if err := rows.Scan(
			&stop.ID,
			&stop.UserID,
			&stop.GroupID,
			&stop.DeviceID,
			&stop.DeviceType,
			&stop.Action,
			&stop.IssuedAt,
			&stop.ExpiresAt,
		); err != nil {
			return nil, err
		}
		stop.IssuedAt = stop.IssuedAt.UTC()
		stop.ExpiresAt = stop.ExpiresAt.UTC()
		result = append(result, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteExpiredStops removes markers whose expires_at is at or before the given time.
func (r *CommandRepository) DeleteExpiredStops(ctx context.Context, before time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("command repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM stop_commands WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	count, _ := result.RowsAffected()
	return int(count), nil
}
