package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	commands "hydroponics-cloud/internal/commands/domain"
)

// Repository is an in-memory command repository for local runs and tests.
type Repository struct {
	mu     sync.RWMutex
	active map[commands.Key]commands.ActuatorCommand
	stops  map[string]commands.StopCommand

	// FailWrites makes every write return the error when set.
	FailWrites error
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{
		active: make(map[commands.Key]commands.ActuatorCommand),
		stops:  make(map[string]commands.StopCommand),
	}
}

// InsertActive writes the command unless its key is taken.
func (r *Repository) InsertActive(_ context.Context, cmd *commands.ActuatorCommand) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return false, r.FailWrites
	}
	key := cmd.Key()
	if _, exists := r.active[key]; exists {
		return false, nil
	}
	r.active[key] = *cmd
	return true, nil
}

// DeleteActive removes the command of a key.
func (r *Repository) DeleteActive(_ context.Context, key commands.Key) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return false, r.FailWrites
	}
	if _, exists := r.active[key]; !exists {
		return false, nil
	}
	delete(r.active, key)
	return true, nil
}

// ListActive lists the commands of a group ordered by issue time.
func (r *Repository) ListActive(_ context.Context, userID, groupID string) ([]commands.ActuatorCommand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []commands.ActuatorCommand
	for key, cmd := range r.active {
		if key.UserID == userID && key.GroupID == groupID {
			result = append(result, cmd)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedAt.Before(result[j].IssuedAt) })
	return result, nil
}

// InsertStop writes a stop marker.
func (r *Repository) InsertStop(_ context.Context, stop *commands.StopCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return r.FailWrites
	}
	r.stops[stop.ID] = *stop
	return nil
}

// DeleteStop removes a stop marker.
func (r *Repository) DeleteStop(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return false, r.FailWrites
	}
	if _, exists := r.stops[id]; !exists {
		return false, nil
	}
	delete(r.stops, id)
	return true, nil
}

// ListStops lists the stop markers of a group ordered by issue time.
func (r *Repository) ListStops(_ context.Context, userID, groupID string) ([]commands.StopCommand, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []commands.StopCommand
	for _, stop := range r.stops {
		if stop.UserID == userID && stop.GroupID == groupID {
			result = append(result, stop)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedAt.Before(result[j].IssuedAt) })
	return result, nil
}

// DeleteExpiredStops removes markers that expired at or before the given time.
func (r *Repository) DeleteExpiredStops(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for id, stop := range r.stops {
		if stop.Expired(before) {
			delete(r.stops, id)
			count++
		}
	}
	return count, nil
}
