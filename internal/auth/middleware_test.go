package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func wrapOK(t *testing.T, seen *string) http.Handler {
	t.Helper()
	mw := NewMiddleware(testSecret, NewDefaultPolicy([]string{"/healthz"}, []string{"/ingest/"}))
	return mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = UserIDFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func mustToken(t *testing.T, userID string, role Role) string {
	t.Helper()
	token, err := IssueToken(testSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	resp := httptest.NewRecorder()
	wrapOK(t, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_SubjectBecomesUserID(t *testing.T) {
	var seen string
	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, "user-1", RoleViewer))
	resp := httptest.NewRecorder()
	wrapOK(t, &seen).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || seen != "user-1" {
		t.Fatalf("expected 200 for user-1, got %d %q", resp.Code, seen)
	}
}

func TestAuthMiddleware_ViewerForbiddenTargetUpdate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/groups/g1/targets", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, "user-1", RoleViewer))
	resp := httptest.NewRecorder()
	wrapOK(t, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_AdminRoutes(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/stop-markers/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+mustToken(t, "user-1", RoleOperator))
	resp := httptest.NewRecorder()
	wrapOK(t, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_WebsocketQueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups/g1/alerts/stream?access_token="+mustToken(t, "user-2", RoleViewer), nil)
	var seen string
	resp := httptest.NewRecorder()
	wrapOK(t, &seen).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || seen != "user-2" {
		t.Fatalf("expected query token accepted, got %d %q", resp.Code, seen)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	for _, path := range []string{"/healthz", "/ingest/readings"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		resp := httptest.NewRecorder()
		wrapOK(t, nil).ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected exempt, got %d", path, resp.Code)
		}
	}
}

func TestParseJWTDefaultsRole(t *testing.T) {
	token := mustToken(t, "user-3", "")
	claims, err := ParseJWT(token, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Role != string(RoleOperator) || claims.Subject != "user-3" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := ParseJWT(token, []byte("other")); err == nil {
		t.Fatal("expected signature error")
	}
}
