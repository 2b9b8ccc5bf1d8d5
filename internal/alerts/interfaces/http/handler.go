package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	alerts "hydroponics-cloud/internal/alerts/domain"
	"hydroponics-cloud/internal/auth"
)

// AlertReader returns the active alerts of a group.
type AlertReader interface {
	ActiveAlerts(ctx context.Context, userID, groupID string) ([]alerts.ActiveAlert, error)
}

// Watcher starts and stops group monitoring.
type Watcher interface {
	AlertReader
	Watch(userID, groupID string) error
	Unwatch(userID, groupID string) error
	Watching(userID, groupID string) bool
}

// HistoryReader returns alert history.
type HistoryReader interface {
	History(ctx context.Context, userID, groupID string, from, to time.Time) ([]alerts.HistoryEntry, error)
}

type alertsResponse struct {
	GroupID  string               `json:"groupId"`
	Watching bool                 `json:"watching"`
	Alerts   []alerts.ActiveAlert `json:"alerts"`
}

// Handler serves active alerts, watch state and history of a group.
type Handler struct {
	watcher Watcher
	history HistoryReader
	logger  *zap.Logger
}

// NewHandler constructs an alerts handler. history may be nil.
func NewHandler(watcher Watcher, history HistoryReader, logger *zap.Logger) (*Handler, error) {
	if watcher == nil {
		return nil, errors.New("alerts handler: nil watcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{watcher: watcher, history: history, logger: logger}, nil
}

// Alerts handles GET /api/v1/groups/{groupId}/alerts. Unwatched groups report no alerts.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, groupID := identity(r)
	resp := alertsResponse{GroupID: groupID, Alerts: []alerts.ActiveAlert{}}
	list, err := h.watcher.ActiveAlerts(r.Context(), userID, groupID)
	switch {
	case err == nil:
		resp.Watching = true
		if list != nil {
			resp.Alerts = list
		}
	case errors.Is(err, alerts.ErrNotWatched):
	case errors.Is(err, alerts.ErrMissingIdentifiers):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		h.logger.Error("active alerts failed", zap.Error(err))
		http.Error(w, "active alerts error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Watch handles POST and DELETE /api/v1/groups/{groupId}/watch.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	userID, groupID := identity(r)
	if userID == "" || groupID == "" {
		http.Error(w, "missing user or group", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPost:
		if err := h.watcher.Watch(userID, groupID); err != nil {
			h.logger.Error("watch failed", zap.String("user_id", userID), zap.String("group_id", groupID), zap.Error(err))
			http.Error(w, "watch error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groupId": groupID, "watching": true})
	case http.MethodDelete:
		if err := h.watcher.Unwatch(userID, groupID); err != nil && !errors.Is(err, alerts.ErrNotWatched) {
			h.logger.Error("unwatch failed", zap.String("user_id", userID), zap.String("group_id", groupID), zap.Error(err))
			http.Error(w, "unwatch error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// History handles GET /api/v1/groups/{groupId}/alerts/history?from&to.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.history == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	userID, groupID := identity(r)
	from, to, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.history.History(r.Context(), userID, groupID, from, to)
	if err != nil {
		if errors.Is(err, alerts.ErrMissingIdentifiers) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("alert history failed", zap.Error(err))
		http.Error(w, "alert history error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []alerts.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if value := r.URL.Query().Get("to"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = parsed.UTC()
	}
	from := to.Add(-7 * 24 * time.Hour)
	if value := r.URL.Query().Get("from"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = parsed.UTC()
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

func identity(r *http.Request) (string, string) {
	return auth.UserIDFromContext(r.Context()), mux.Vars(r)["groupId"]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
