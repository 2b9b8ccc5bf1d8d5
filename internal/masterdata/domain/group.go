package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMissingIdentifiers indicates an empty user or group id.
	ErrMissingIdentifiers = errors.New("masterdata: missing user or group id")
	// ErrNotFound indicates the group or device does not exist.
	ErrNotFound = errors.New("masterdata: not found")
	// ErrInvalid wraps validation failures.
	ErrInvalid = errors.New("masterdata: invalid")
)

// Group is a named growing area owned by one user.
type Group struct {
	UserID    string
	GroupID   string
	Name      string
	CreatedAt time.Time
}

// Validate checks group invariants.
func (g Group) Validate() error {
	if g.UserID == "" || g.GroupID == "" {
		return ErrMissingIdentifiers
	}
	if strings.ContainsRune(g.GroupID, '/') {
		return fmt.Errorf("%w: group id must not contain '/'", ErrInvalid)
	}
	if g.Name == "" {
		return fmt.Errorf("%w: empty group name", ErrInvalid)
	}
	return nil
}

// GroupRepository manages group persistence.
type GroupRepository interface {
	Get(ctx context.Context, userID, groupID string) (*Group, error)
	Save(ctx context.Context, group *Group) error
	ListByUser(ctx context.Context, userID string) ([]Group, error)
	ListAll(ctx context.Context) ([]Group, error)
}

// Collection names a per-group document collection.
type Collection string

const (
	CollectionSensorData      Collection = "sensor_data"
	CollectionControlSettings Collection = "control_settings"
	CollectionActiveCommands  Collection = "active_commands"
	CollectionStopCommands    Collection = "stop_commands"
	CollectionDevices         Collection = "devices"
)

// GroupPath returns users/{userId}/deviceGroups/{groupId}.
func GroupPath(userID, groupID string) string {
	return "users/" + userID + "/deviceGroups/" + groupID
}

// CollectionPath returns the document path of a group collection.
func CollectionPath(userID, groupID string, collection Collection) string {
	return GroupPath(userID, groupID) + "/" + string(collection)
}
