package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/auth"
	"hydroponics-cloud/internal/observability/metrics"
	reports "hydroponics-cloud/internal/reports/application"
	"hydroponics-cloud/internal/reports/interfaces"
	sensors "hydroponics-cloud/internal/sensors/domain"
	sensorshttp "hydroponics-cloud/internal/sensors/interfaces/http"
)

const (
	formatXLSX = "xlsx"
	formatPDF  = "pdf"

	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

// ReportBuilder assembles a report.
type ReportBuilder interface {
	Build(ctx context.Context, userID, groupID string, from, to time.Time) (*reports.Report, error)
}

// Handler serves report downloads.
type Handler struct {
	builder ReportBuilder
	logger  *zap.Logger
}

// NewHandler constructs a report handler.
func NewHandler(builder ReportBuilder, logger *zap.Logger) (*Handler, error) {
	if builder == nil {
		return nil, errors.New("reports handler: nil builder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{builder: builder, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/groups/{groupId}/reports.{format}?from&to.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	vars := mux.Vars(r)
	format := vars["format"]
	if format != formatXLSX && format != formatPDF {
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
		return
	}
	userID, groupID := auth.UserIDFromContext(r.Context()), vars["groupId"]
	from, to, err := sensorshttp.ParseRange(r, time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := "success"
	defer func() {
		metrics.ObserveReportExport(format, result, time.Since(start))
	}()

	report, err := h.builder.Build(r.Context(), userID, groupID, from, to)
	if err != nil {
		result = "error"
		if errors.Is(err, sensors.ErrMissingIdentifiers) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("build report failed", zap.String("group_id", groupID), zap.Error(err))
		http.Error(w, "report error", http.StatusInternalServerError)
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case formatPDF:
		data, err = interfaces.BuildReportPDF(report)
		contentType = contentTypePDF
	default:
		data, err = interfaces.BuildReportXLSX(report)
		contentType = contentTypeXLSX
	}
	if err != nil {
		result = "error"
		h.logger.Error("render report failed", zap.String("format", format), zap.Error(err))
		http.Error(w, "report error", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("%s_%s.%s", groupID, from.Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
