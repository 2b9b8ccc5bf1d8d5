package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"hydroponics-cloud/internal/auth"
	reports "hydroponics-cloud/internal/reports/application"
)

type stubBuilder struct {
	err     error
	groupID string
}

func (s *stubBuilder) Build(_ context.Context, userID, groupID string, from, to time.Time) (*reports.Report, error) {
	s.groupID = groupID
	if s.err != nil {
		return nil, s.err
	}
	return &reports.Report{UserID: userID, GroupID: groupID, From: from, To: to}, nil
}

func serve(t *testing.T, builder ReportBuilder, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler, err := NewHandler(builder, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	router := mux.NewRouter()
	router.Handle("/api/v1/groups/{groupId}/reports.{format}", handler)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "u1", auth.RoleViewer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestReportDownloads(t *testing.T) {
	builder := &stubBuilder{}
	resp := serve(t, builder, "/api/v1/groups/g1/reports.pdf?from=2024-06-01T00:00:00Z&to=2024-06-02T00:00:00Z")
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != contentTypePDF {
		t.Fatalf("unexpected pdf response %d %q", resp.Code, resp.Header().Get("Content-Type"))
	}
	if !strings.Contains(resp.Header().Get("Content-Disposition"), "g1_20240601.pdf") {
		t.Fatalf("unexpected disposition %q", resp.Header().Get("Content-Disposition"))
	}
	if builder.groupID != "g1" {
		t.Fatalf("expected group g1, got %q", builder.groupID)
	}

	resp = serve(t, builder, "/api/v1/groups/g1/reports.xlsx")
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != contentTypeXLSX {
		t.Fatalf("unexpected xlsx response %d", resp.Code)
	}
}

func TestReportRejectsBadInput(t *testing.T) {
	if resp := serve(t, &stubBuilder{}, "/api/v1/groups/g1/reports.csv"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for csv, got %d", resp.Code)
	}
	if resp := serve(t, &stubBuilder{}, "/api/v1/groups/g1/reports.pdf?from=yesterday"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", resp.Code)
	}
	if resp := serve(t, &stubBuilder{err: errors.New("db down")}, "/api/v1/groups/g1/reports.pdf"); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
