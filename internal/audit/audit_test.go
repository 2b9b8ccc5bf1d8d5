package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"hydroponics-cloud/internal/auth"
)

type memoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *memoryLogger) Log(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func newAuditedRouter(sink Logger, status int) http.Handler {
	router := mux.NewRouter()
	router.Use(Middleware(sink, nil))
	handler := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }
	router.HandleFunc("/api/v1/groups/{groupId}/devices/{deviceId}", handler)
	router.HandleFunc("/api/v1/groups/{groupId}/targets", handler)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), "u1", auth.RoleOperator)))
	})
}

func TestMiddlewareRecordsMutations(t *testing.T) {
	sink := &memoryLogger{}
	router := newAuditedRouter(sink, http.StatusNoContent)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/groups/g1/devices/1nutrient", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	router.ServeHTTP(httptest.NewRecorder(), req)

	if len(sink.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.Actor != "u1" || entry.Role != "operator" || entry.Action != http.MethodDelete {
		t.Fatalf("unexpected identity %+v", entry)
	}
	if entry.ResourceType != "devices" || entry.ResourceID != "1nutrient" || entry.GroupID != "g1" {
		t.Fatalf("unexpected resource %+v", entry)
	}
	if entry.IP != "10.0.0.7" || entry.Status != http.StatusNoContent {
		t.Fatalf("unexpected request data %+v", entry)
	}
}

func TestMiddlewareSkipsReadsAndFailures(t *testing.T) {
	sink := &memoryLogger{}
	router := newAuditedRouter(sink, http.StatusOK)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/groups/g1/targets", nil))
	if len(sink.entries) != 0 {
		t.Fatal("reads are not audited")
	}

	failing := newAuditedRouter(sink, http.StatusBadRequest)
	failing.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/v1/groups/g1/targets", nil))
	if len(sink.entries) != 0 {
		t.Fatal("rejected requests are not audited")
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/v1/groups/g1/targets", nil))
	if len(sink.entries) != 1 || sink.entries[0].ResourceType != "targets" || sink.entries[0].ResourceID != "g1" {
		t.Fatalf("unexpected entries %+v", sink.entries)
	}
}
