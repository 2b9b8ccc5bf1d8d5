package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/auth"
	commands "hydroponics-cloud/internal/commands/domain"
)

// CommandService is the command surface used by the handler.
type CommandService interface {
	ListActive(ctx context.Context, userID, groupID string) ([]commands.ActuatorCommand, error)
	ListStops(ctx context.Context, userID, groupID string) ([]commands.StopCommand, error)
	ClearActive(ctx context.Context, key commands.Key) (bool, error)
}

// Sweeper runs the stop marker sweep on demand.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type commandsResponse struct {
	Active []commands.ActuatorCommand `json:"active"`
	Stops  []commands.StopCommand     `json:"stops"`
}

// Handler serves outstanding commands of a group.
type Handler struct {
	service CommandService
	sweeper Sweeper
	logger  *zap.Logger
}

// NewHandler constructs a command handler. sweeper may be nil.
func NewHandler(service CommandService, sweeper Sweeper, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, sweeper: sweeper, logger: logger}, nil
}

// ServeHTTP handles GET and DELETE /api/v1/groups/{groupId}/commands. DELETE clears the active
// command selected by the deviceType and action query parameters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	groupID := mux.Vars(r)["groupId"]

	switch r.Method {
	case http.MethodGet:
		active, err := h.service.ListActive(r.Context(), userID, groupID)
		if err != nil {
			h.fail(w, "list commands", err)
			return
		}
		stops, err := h.service.ListStops(r.Context(), userID, groupID)
		if err != nil {
			h.fail(w, "list stops", err)
			return
		}
		if active == nil {
			active = []commands.ActuatorCommand{}
		}
		if stops == nil {
			stops = []commands.StopCommand{}
		}
		writeJSON(w, http.StatusOK, commandsResponse{Active: active, Stops: stops})

	case http.MethodDelete:
		query := r.URL.Query()
		key := commands.Key{
			UserID:     userID,
			GroupID:    groupID,
			DeviceType: query.Get("deviceType"),
			Action:     query.Get("action"),
		}
		if key.DeviceType == "" || key.Action == "" {
			http.Error(w, "deviceType and action are required", http.StatusBadRequest)
			return
		}
		cleared, err := h.service.ClearActive(r.Context(), key)
		if err != nil {
			h.fail(w, "clear command", err)
			return
		}
		if !cleared {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Sweep handles POST /api/v1/admin/stop-markers/sweep.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.sweeper == nil {
		http.Error(w, "sweeper not configured", http.StatusServiceUnavailable)
		return
	}
	count, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.fail(w, "sweep stop markers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, commands.ErrMissingIdentifiers), errors.Is(err, commands.ErrInvalidCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		http.Error(w, op+" error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
