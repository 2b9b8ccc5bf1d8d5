package postgres

import (
	"context"
	"database/sql"
	"errors"

	sensors "hydroponics-cloud/internal/sensors/domain"
)

// TargetRepository stores one control_settings row per group.
type TargetRepository struct {
	db *sql.DB
}

// NewTargetRepository constructs a repository.
func NewTargetRepository(db *sql.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Get loads the targets of a group or nil.
func (r *TargetRepository) Get(ctx context.Context, userID, groupID string) (*sensors.ControlTarget, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("target repo: nil db")
	}
	var target sensors.ControlTarget
	var mode string
	err := r.db.QueryRowContext(ctx, `
SELECT user_id, group_id, ph_target, ec_target, soil_moisture_target, temp_target, humidity_target, mode, updated_at
FROM control_settings
WHERE user_id = $1 AND group_id = $2`, userID, groupID).Scan(
		&target.UserID,
		&target.GroupID,
		&target.PHTarget,
		&target.ECTarget,
		&target.SoilMoistureTarget,
		&target.TempTarget,
		&target.HumidityTarget,
		&mode,
		&target.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	target.Mode = sensors.NormalizeMode(mode)
	target.UpdatedAt = target.UpdatedAt.UTC()
	return &target, nil
}

// Save upserts the targets of a group.
func (r *TargetRepository) Save(ctx context.Context, target *sensors.ControlTarget) error {
	if r == nil || r.db == nil {
		return errors.New("target repo: nil db")
	}
	if target == nil {
		return errors.New("target repo: nil target")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO control_settings (
	user_id, group_id, ph_target, ec_target, soil_moisture_target, temp_target, humidity_target, mode, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT (user_id, group_id)
DO UPDATE SET
	ph_target = EXCLUDED.ph_target,
	ec_target = EXCLUDED.ec_target,
	soil_moisture_target = EXCLUDED.soil_moisture_target,
	temp_target = EXCLUDED.temp_target,
	humidity_target = EXCLUDED.humidity_target,
	mode = EXCLUDED.mode,
	updated_at = EXCLUDED.updated_at`,
		target.UserID,
		target.GroupID,
		target.PHTarget,
		target.ECTarget,
		target.SoilMoistureTarget,
		target.TempTarget,
		target.HumidityTarget,
		string(target.Mode),
		target.UpdatedAt,
	)
	return err
}
