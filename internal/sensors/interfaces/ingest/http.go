package ingest

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"hydroponics-cloud/internal/observability/metrics"
	sensors "hydroponics-cloud/internal/sensors/domain"
)

// TokenHeader carries the shared ingest token.
const TokenHeader = "X-Ingest-Token"

const maxBodyBytes = 1 << 20

// HTTPHandler accepts sensor readings over HTTP.
type HTTPHandler struct {
	recorder Recorder
	token    []byte
	logger   *zap.Logger
}

// NewHTTPHandler constructs an ingest handler.
func NewHTTPHandler(recorder Recorder, token string, logger *zap.Logger) (*HTTPHandler, error) {
	if recorder == nil {
		return nil, errors.New("ingest: nil recorder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{recorder: recorder, token: []byte(token), logger: logger}, nil
}

// ServeHTTP handles POST /ingest/readings.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	if len(h.token) == 0 {
		http.Error(w, "ingest auth not configured", http.StatusUnauthorized)
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(TokenHeader)), h.token) != 1 {
		metrics.IncIngestError("unauthorized")
		http.Error(w, "invalid ingest token", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("ingest read body failed", zap.Error(err))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	reading, err := ParsePayload(body, "", "")
	if err != nil {
		h.logger.Warn("ingest payload rejected", zap.String("source", "http"), zap.Error(err))
		metrics.IncIngestError("invalid_payload")
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(start))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	saved, err := h.recorder.RecordReading(r.Context(), reading)
	if err != nil {
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(start))
		if errors.Is(err, sensors.ErrMissingIdentifiers) {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		h.logger.Error("ingest store failed",
			zap.String("user_id", reading.UserID),
			zap.String("group_id", reading.GroupID),
			zap.Error(err))
		metrics.IncIngestError("store")
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveIngest("http", metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": saved.ID, "timestamp": saved.Timestamp})
}
