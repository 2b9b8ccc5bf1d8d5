package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	"hydroponics-cloud/internal/auth"
	"hydroponics-cloud/internal/eventing"
)

type stubWatcher struct {
	mu      sync.Mutex
	watched map[string]bool
	alerts  []alerts.ActiveAlert
}

func newStubWatcher() *stubWatcher {
	return &stubWatcher{watched: make(map[string]bool)}
}

func (s *stubWatcher) ActiveAlerts(_ context.Context, userID, groupID string) ([]alerts.ActiveAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watched[userID+"/"+groupID] {
		return nil, alerts.ErrNotWatched
	}
	return s.alerts, nil
}

func (s *stubWatcher) Watch(userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[userID+"/"+groupID] = true
	return nil
}

func (s *stubWatcher) Unwatch(userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watched[userID+"/"+groupID] {
		return alerts.ErrNotWatched
	}
	delete(s.watched, userID+"/"+groupID)
	return nil
}

func (s *stubWatcher) Watching(userID, groupID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched[userID+"/"+groupID]
}

func withUser(next http.Handler, userID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), userID, auth.RoleOperator)))
	})
}

func newRouter(t *testing.T, watcher *stubWatcher, stream *StreamHandler) http.Handler {
	t.Helper()
	handler, err := NewHandler(watcher, nil, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/groups/{groupId}/alerts", handler.Alerts)
	router.HandleFunc("/api/v1/groups/{groupId}/watch", handler.Watch)
	router.HandleFunc("/api/v1/groups/{groupId}/alerts/history", handler.History)
	if stream != nil {
		router.Handle("/api/v1/groups/{groupId}/alerts/stream", stream)
	}
	return withUser(router, "u1")
}

func TestAlertsHandlerWatchFlow(t *testing.T) {
	watcher := newStubWatcher()
	router := newRouter(t, watcher, nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/groups/g1/alerts", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"watching":false`) {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/groups/g1/watch", nil))
	if resp.Code != http.StatusOK || !watcher.Watching("u1", "g1") {
		t.Fatalf("watch failed: %d", resp.Code)
	}

	watcher.alerts = []alerts.ActiveAlert{{Parameter: "ph", TriggeredAction: "increase_pH", Message: "pH is 4, target 6.5: increase_pH by 2.5"}}
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/groups/g1/alerts", nil))
	var body alertsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Watching || len(body.Alerts) != 1 || body.Alerts[0].TriggeredAction != "increase_pH" {
		t.Fatalf("unexpected body %+v", body)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/groups/g1/watch", nil))
	if resp.Code != http.StatusNoContent || watcher.Watching("u1", "g1") {
		t.Fatalf("unwatch failed: %d", resp.Code)
	}
}

func TestAlertsHistoryNotConfigured(t *testing.T) {
	router := newRouter(t, newStubWatcher(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/groups/g1/alerts/history", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestAlertStreamDeliversGroupEvents(t *testing.T) {
	bus := eventing.NewInMemoryBus()
	broker := NewBroker()
	broker.Register(bus)
	watcher := newStubWatcher()
	_ = watcher.Watch("u1", "g1")
	stream := NewStreamHandler(broker, watcher, nil, nil)

	server := httptest.NewServer(newRouter(t, watcher, stream))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/groups/g1/alerts/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot StreamMessage
	if err := conn.ReadJSON(&snapshot); err != nil || snapshot.Type != "snapshot" {
		t.Fatalf("expected snapshot, got %+v %v", snapshot, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for broker.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ctx := context.Background()
	_ = bus.Publish(ctx, alertevents.AlertRaised{UserID: "u1", GroupID: "other", Parameter: "ec"})
	_ = bus.Publish(ctx, alertevents.AlertRaised{UserID: "u1", GroupID: "g1", Parameter: "ph", Action: "increase_pH"})

	var msg struct {
		Type    string                  `json:"type"`
		Payload alertevents.AlertRaised `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "alert_raised" || msg.Payload.Parameter != "ph" {
		t.Fatalf("expected only the group's alert, got %+v", msg)
	}
}
