package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/auth"
)

// Entry represents an audit log entry.
type Entry struct {
	ID           string
	Actor        string
	Role         string
	Action       string
	ResourceType string
	ResourceID   string
	GroupID      string
	Status       int
	IP           string
	UserAgent    string
	CreatedAt    time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// Middleware records successful mutating requests. It must run inside the auth middleware so the
// identity is on the request context, and as a mux middleware so route variables are resolved.
func Middleware(sink Logger, logger *zap.Logger) mux.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sink == nil || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusBadRequest {
				return
			}
			vars := mux.Vars(r)
			resourceType, resourceID := resourceOf(r.URL.Path, vars)
			entry := Entry{
				ID:           NewID(),
				Actor:        auth.UserIDFromContext(r.Context()),
				Role:         string(auth.RoleFromContext(r.Context())),
				Action:       r.Method,
				ResourceType: resourceType,
				ResourceID:   resourceID,
				GroupID:      vars["groupId"],
				Status:       rec.status,
				IP:           clientIP(r),
				UserAgent:    r.UserAgent(),
				CreatedAt:    time.Now().UTC(),
			}
			if err := sink.Log(r.Context(), entry); err != nil {
				logger.Warn("audit log failed",
					zap.String("actor", entry.Actor),
					zap.String("resource_type", entry.ResourceType),
					zap.Error(err))
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// resourceOf names the resource by the last static path segment.
func resourceOf(path string, vars map[string]string) (string, string) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	values := make(map[string]bool, len(vars))
	for _, v := range vars {
		values[v] = true
	}
	resourceType := ""
	for i := len(segments) - 1; i >= 0; i-- {
		if !values[segments[i]] {
			resourceType = segments[i]
			break
		}
	}
	resourceID := vars["deviceId"]
	if resourceID == "" {
		resourceID = vars["groupId"]
	}
	return resourceType, resourceID
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
