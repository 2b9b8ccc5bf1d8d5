package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hydroponics-cloud/internal/audit"
	"hydroponics-cloud/internal/auth"
)

// Routes holds the endpoint handlers. Nil entries are not mounted.
type Routes struct {
	Groups        http.HandlerFunc
	Devices       http.HandlerFunc
	Device        http.HandlerFunc
	Targets       http.HandlerFunc
	Readings      http.HandlerFunc
	LatestReading http.HandlerFunc
	Alerts        http.HandlerFunc
	Watch         http.HandlerFunc
	AlertHistory  http.HandlerFunc
	Sweep         http.HandlerFunc
	Commands      http.Handler
	Reports       http.Handler
	AlertStream   http.Handler
	Ingest        http.Handler
}

// Pinger reports backend health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the router middleware.
type Options struct {
	JWTSecret      []byte
	AllowedOrigins []string
	Health         Pinger
	Audit          audit.Logger
	Logger         *zap.Logger
}

// NewRouter mounts the API under /api/v1 behind JWT auth, plus /healthz, /metrics and /ingest.
func NewRouter(routes Routes, opts Options) (http.Handler, error) {
	if len(opts.JWTSecret) == 0 {
		return nil, errors.New("router: empty jwt secret")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthHandler(opts.Health)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if routes.Ingest != nil {
		router.Handle("/ingest/readings", routes.Ingest).Methods(http.MethodPost)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if opts.Audit != nil {
		api.Use(audit.Middleware(opts.Audit, logger))
	}
	mountFunc(api, "/groups", routes.Groups, http.MethodGet, http.MethodPost)

	group := api.PathPrefix("/groups/{groupId}").Subrouter()
	mountFunc(group, "/targets", routes.Targets, http.MethodGet, http.MethodPut)
	mountFunc(group, "/devices", routes.Devices, http.MethodGet, http.MethodPost)
	mountFunc(group, "/devices/{deviceId}", routes.Device, http.MethodDelete)
	mountFunc(group, "/readings", routes.Readings, http.MethodGet)
	mountFunc(group, "/readings/latest", routes.LatestReading, http.MethodGet)
	mountFunc(group, "/alerts", routes.Alerts, http.MethodGet)
	mountFunc(group, "/alerts/history", routes.AlertHistory, http.MethodGet)
	mountFunc(group, "/watch", routes.Watch, http.MethodPost, http.MethodDelete)
	mount(group, "/alerts/stream", routes.AlertStream, http.MethodGet)
	mount(group, "/commands", routes.Commands, http.MethodGet, http.MethodDelete)
	mount(group, "/reports.{format:xlsx|pdf}", routes.Reports, http.MethodGet)

	mountFunc(api, "/admin/stop-markers/sweep", routes.Sweep, http.MethodPost)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	var handler http.Handler = auth.NewMiddleware(opts.JWTSecret, policy).Wrap(router)
	handler = handlers.CustomLoggingHandler(io.Discard, handler, requestLogger(logger))
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: logger}),
		handlers.PrintRecoveryStack(false),
	)(handler)
	if len(opts.AllowedOrigins) > 0 {
		handler = handlers.CORS(
			handlers.AllowedOrigins(opts.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Ingest-Token"}),
		)(handler)
	}
	return handler, nil
}

func mount(r *mux.Router, path string, h http.Handler, methods ...string) {
	if h == nil {
		return
	}
	r.Handle(path, h).Methods(methods...)
}

func mountFunc(r *mux.Router, path string, h http.HandlerFunc, methods ...string) {
	if h == nil {
		return
	}
	r.HandleFunc(path, h).Methods(methods...)
}

func healthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func requestLogger(logger *zap.Logger) handlers.LogFormatter {
	return func(_ io.Writer, params handlers.LogFormatterParams) {
		logger.Info("http request",
			zap.String("method", params.Request.Method),
			zap.String("path", params.URL.Path),
			zap.Int("status", params.StatusCode),
			zap.Int("size", params.Size),
			zap.Duration("duration", time.Since(params.TimeStamp)),
		)
	}
}

type recoveryLogger struct {
	logger *zap.Logger
}

func (l recoveryLogger) Println(values ...interface{}) {
	l.logger.Error("http handler panic", zap.String("panic", fmt.Sprint(values...)))
}
