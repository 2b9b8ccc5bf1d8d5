package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "hydroponics-cloud/internal/masterdata/domain"
)

const defaultGroupsTable = "device_groups"

// GroupRepository is a Postgres implementation for device groups.
type GroupRepository struct {
	db    DBTX
	table string
}

// NewGroupRepository constructs a repository.
func NewGroupRepository(db DBTX, opts ...GroupOption) *GroupRepository {
	repo := &GroupRepository{db: db, table: defaultGroupsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// GroupOption configures the repository.
type GroupOption func(*GroupRepository)

// WithGroupTable overrides the default table name.
func WithGroupTable(table string) GroupOption {
	return func(repo *GroupRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a group; it returns nil when the group does not exist.
func (r *GroupRepository) Get(ctx context.Context, userID, groupID string) (*masterdata.Group, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("group repo: nil db")
	}
	if userID == "" || groupID == "" {
		return nil, masterdata.ErrMissingIdentifiers
	}

	query := fmt.Sprintf(`
SELECT user_id, group_id, name, created_at
FROM %s
WHERE user_id = $1 AND group_id = $2
LIMIT 1`, r.table)

	var group masterdata.Group
	if err := r.db.QueryRowContext(ctx, query, userID, groupID).Scan(
		&group.UserID,
		&group.GroupID,
		&group.Name,
		&group.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	group.CreatedAt = group.CreatedAt.UTC()
	return &group, nil
}

// ListByUser loads all groups of a user.
func (r *GroupRepository) ListByUser(ctx context.Context, userID string) ([]masterdata.Group, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("group repo: nil db")
	}
	if userID == "" {
		return nil, masterdata.ErrMissingIdentifiers
	}
	query := fmt.Sprintf(`
SELECT user_id, group_id, name, created_at
FROM %s
WHERE user_id = $1
ORDER BY created_at ASC, group_id ASC`, r.table)
	return r.list(ctx, query, userID)
}

// ListAll loads every group.
func (r *GroupRepository) ListAll(ctx context.Context) ([]masterdata.Group, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("group repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT user_id, group_id, name, created_at
FROM %s
ORDER BY user_id ASC, group_id ASC`, r.table)
	return r.list(ctx, query)
}

func (r *GroupRepository) list(ctx context.Context, query string, args ...any) ([]masterdata.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Group
	for rows.Next() {
		var group masterdata.Group
		if err := rows.Scan(&group.UserID, &group.GroupID, &group.Name, &group.CreatedAt); err != nil {
			return nil, err
		}
		group.CreatedAt = group.CreatedAt.UTC()
		result = append(result, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a group.
func (r *GroupRepository) Save(ctx context.Context, group *masterdata.Group) error {
	if r == nil || r.db == nil {
		return errors.New("group repo: nil db")
	}
	if group == nil {
		return errors.New("group repo: nil group")
	}
	if err := group.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (user_id, group_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, group_id)
DO UPDATE SET name = EXCLUDED.name`, r.table)

	if _, err := r.db.ExecContext(ctx, query, group.UserID, group.GroupID, group.Name); err != nil {
		return err
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	return nil
}
