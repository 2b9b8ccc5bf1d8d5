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
	masterdata "hydroponics-cloud/internal/masterdata/domain"
)

// GroupService is the masterdata surface used by the handlers.
type GroupService interface {
	CreateGroup(ctx context.Context, userID, groupID, name string) (*masterdata.Group, error)
	ListGroups(ctx context.Context, userID string) ([]masterdata.Group, error)
	RegisterDevice(ctx context.Context, userID, groupID, deviceID, name, role string) (*masterdata.Device, error)
	RemoveDevice(ctx context.Context, userID, groupID, deviceID string) error
	ListDevices(ctx context.Context, userID, groupID string) ([]masterdata.Device, error)
}

type groupResponse struct {
	GroupID   string    `json:"groupId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type deviceResponse struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
}

type createGroupRequest struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name"`
}

type registerDeviceRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Handler serves groups and devices of the authenticated user.
type Handler struct {
	service GroupService
	logger  *zap.Logger
}

// NewHandler constructs a masterdata handler.
func NewHandler(service GroupService, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("masterdata handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

// Groups handles GET/POST /api/v1/groups.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		groups, err := h.service.ListGroups(r.Context(), userID)
		if err != nil {
			h.fail(w, "list groups", err)
			return
		}
		result := make([]groupResponse, 0, len(groups))
		for _, group := range groups {
			result = append(result, groupResponse{GroupID: group.GroupID, Name: group.Name, CreatedAt: group.CreatedAt})
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodPost:
		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.GroupID == "" {
			http.Error(w, "groupId is required", http.StatusBadRequest)
			return
		}
		group, err := h.service.CreateGroup(r.Context(), userID, req.GroupID, req.Name)
		if err != nil {
			h.fail(w, "create group", err)
			return
		}
		writeJSON(w, http.StatusCreated, groupResponse{GroupID: group.GroupID, Name: group.Name, CreatedAt: group.CreatedAt})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Devices handles GET/POST /api/v1/groups/{groupId}/devices.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	groupID := mux.Vars(r)["groupId"]
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	switch r.Method {
	case http.MethodGet:
		devices, err := h.service.ListDevices(r.Context(), userID, groupID)
		if err != nil {
			h.fail(w, "list devices", err)
			return
		}
		result := make([]deviceResponse, 0, len(devices))
		for _, device := range devices {
			result = append(result, toDeviceResponse(device))
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodPost:
		var req registerDeviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		device, err := h.service.RegisterDevice(r.Context(), userID, groupID, req.DeviceID, req.Name, req.Role)
		if err != nil {
			h.fail(w, "register device", err)
			return
		}
		writeJSON(w, http.StatusCreated, toDeviceResponse(*device))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Device handles DELETE /api/v1/groups/{groupId}/devices/{deviceId}.
func (h *Handler) Device(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	if err := h.service.RemoveDevice(r.Context(), userID, vars["groupId"], vars["deviceId"]); err != nil {
		h.fail(w, "remove device", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, masterdata.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, masterdata.ErrMissingIdentifiers), errors.Is(err, masterdata.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		http.Error(w, op+" error", http.StatusInternalServerError)
	}
}

func toDeviceResponse(device masterdata.Device) deviceResponse {
	return deviceResponse{DeviceID: device.DeviceID, Name: device.Name, Role: string(device.Role)}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
