package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/auth"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

const (
	timeLayout   = time.RFC3339
	defaultRange = 24 * time.Hour
)

// SensorService is the sensors surface used by the handlers.
type SensorService interface {
	LatestReading(ctx context.Context, userID, groupID string) (*sensors.Reading, error)
	ListReadings(ctx context.Context, userID, groupID string, from, to time.Time) ([]sensors.Reading, error)
	GetTargets(ctx context.Context, userID, groupID string) (*sensors.ControlTarget, error)
	UpdateTargets(ctx context.Context, target sensors.ControlTarget) (*sensors.ControlTarget, error)
}

// Handler serves readings and control targets of a group.
type Handler struct {
	service SensorService
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler constructs a sensors handler.
func NewHandler(service SensorService, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("sensors handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Targets handles GET/PUT /api/v1/groups/{groupId}/targets. PUT merges the body into the stored
// targets, so omitted fields keep their value.
func (h *Handler) Targets(w http.ResponseWriter, r *http.Request) {
	userID, groupID := identity(r)
	switch r.Method {
	case http.MethodGet:
		target, err := h.service.GetTargets(r.Context(), userID, groupID)
		if err != nil {
			h.fail(w, "get targets", err)
			return
		}
		writeJSON(w, http.StatusOK, target)

	case http.MethodPut:
		current, err := h.service.GetTargets(r.Context(), userID, groupID)
		if err != nil && !errors.Is(err, sensors.ErrNotFound) {
			h.fail(w, "get targets", err)
			return
		}
		var target sensors.ControlTarget
		if current != nil {
			target = *current
		}
		if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		target.UserID = userID
		target.GroupID = groupID
		saved, err := h.service.UpdateTargets(r.Context(), target)
		if err != nil {
			h.fail(w, "update targets", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Readings handles GET /api/v1/groups/{groupId}/readings?from&to. The range defaults to the last
// 24 hours.
func (h *Handler) Readings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, groupID := identity(r)
	from, to, err := ParseRange(r, h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	readings, err := h.service.ListReadings(r.Context(), userID, groupID, from, to)
	if err != nil {
		h.fail(w, "list readings", err)
		return
	}
	if readings == nil {
		readings = []sensors.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// LatestReading handles GET /api/v1/groups/{groupId}/readings/latest.
func (h *Handler) LatestReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, groupID := identity(r)
	reading, err := h.service.LatestReading(r.Context(), userID, groupID)
	if err != nil {
		h.fail(w, "latest reading", err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// ParseRange reads the optional RFC3339 from/to query parameters.
func ParseRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	to := now
	if value := r.URL.Query().Get("to"); value != "" {
		parsed, err := time.Parse(timeLayout, value)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = parsed.UTC()
	}
	from := to.Add(-defaultRange)
	if value := r.URL.Query().Get("from"); value != "" {
		parsed, err := time.Parse(timeLayout, value)
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

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, sensors.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, sensors.ErrMissingIdentifiers), errors.Is(err, sensors.ErrInvalidMode):
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
