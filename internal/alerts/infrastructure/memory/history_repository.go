package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alerts "hydroponics-cloud/internal/alerts/domain"
)

// HistoryRepository keeps alert history in memory.
type HistoryRepository struct {
	mu      sync.Mutex
	entries map[string]alerts.HistoryEntry
}

// NewHistoryRepository constructs an empty repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{entries: make(map[string]alerts.HistoryEntry)}
}

// Append stores an entry unless its id is known.
func (r *HistoryRepository) Append(_ context.Context, entry *alerts.HistoryEntry) error {
	if entry == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.ID]; !ok {
		r.entries[entry.ID] = *entry
	}
	return nil
}

// ListRange returns entries with OccurredAt in [from, to) ordered by time.
func (r *HistoryRepository) ListRange(_ context.Context, userID, groupID string, from, to time.Time) ([]alerts.HistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []alerts.HistoryEntry
	for _, entry := range r.entries {
		if entry.UserID != userID || entry.GroupID != groupID {
			continue
		}
		if entry.OccurredAt.Before(from) || !entry.OccurredAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OccurredAt.Before(result[j].OccurredAt) })
	return result, nil
}
