package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	masterdata "hydroponics-cloud/internal/masterdata/domain"
)

const defaultDevicesTable = "devices"

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// ListByGroup loads devices for a group in registration order.
func (r *DeviceRepository) ListByGroup(ctx context.Context, userID, groupID string) ([]masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if userID == "" || groupID == "" {
		return nil, masterdata.ErrMissingIdentifiers
	}

	query := fmt.Sprintf(`
SELECT user_id, group_id, device_id, name, role, created_at, updated_at
FROM %s
WHERE user_id = $1 AND group_id = $2
ORDER BY created_at ASC, device_id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, userID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Device
	for rows.Next() {
		var device masterdata.Device
		var role string
		if err := rows.Scan(
			&device.UserID,
			&device.GroupID,
			&device.DeviceID,
			&device.Name,
			&role,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		device.Role = masterdata.Role(role)
		device.CreatedAt = device.CreatedAt.UTC()
		device.UpdatedAt = device.UpdatedAt.UTC()
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a device.
func (r *DeviceRepository) Save(ctx context.Context, device *masterdata.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	user_id,
	group_id,
	device_id,
	name,
	role
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (user_id, group_id, device_id)
DO UPDATE SET
	name = EXCLUDED.name,
	role = EXCLUDED.role,
	updated_at = NOW()`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		device.UserID,
		device.GroupID,
		device.DeviceID,
		device.Name,
		string(device.Role),
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}

// Delete removes a device and reports whether it existed.
func (r *DeviceRepository) Delete(ctx context.Context, userID, groupID, deviceID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND group_id = $2 AND device_id = $3`, r.table)
	result, err := r.db.ExecContext(ctx, query, userID, groupID, deviceID)
	if err != nil {
		return false, err
	}
	count, _ := result.RowsAffected()
	return count > 0, nil
}
