// Package api exposes the sync coordinator and SCM service over HTTP:
// operation submission and status, manual commit/PR triggers, session
// event streams, health, and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/scm"
	"github.com/memento-sh/sync-core/internal/sync"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// Config wires the router's collaborators. All are optional: routes
// whose collaborator is nil answer 503 (the session stream route is not
// mounted without a Hub), and /healthz reports "degraded" without a
// Coordinator.
type Config struct {
	Coordinator *sync.Coordinator
	SCM         *scm.Service
	Database    core.Database
	Hub         SessionHub
	Logger      *slog.Logger
	Metrics     *metrics.HTTPMetrics
}

// SessionHub upgrades a request to a websocket and streams session
// events to it. internal/realtime.Hub implements this; nil disables
// the /v1/sessions/{id}/stream route.
type SessionHub interface {
	ServeSession(w http.ResponseWriter, r *http.Request, sessionID string)
}

// NewRouter builds the mux.Router exposing this service's HTTP surface.
func NewRouter(cfg Config) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewHTTPMetricsWithNamespace("kgsync", "http")
	}

	router := mux.NewRouter()
	router.Use(requestLoggingMiddleware(cfg.Logger))
	router.Use(cfg.Metrics.Middleware)

	router.HandleFunc("/healthz", healthHandler(cfg)).Methods(http.MethodGet)
	router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	setupOperationRoutes(v1, cfg)
	setupSCMRoutes(v1, cfg)
	setupSessionRoutes(v1, cfg)

	v1.HandleFunc("/docs/swagger.json", swaggerDocHandler).Methods(http.MethodGet)
	router.PathPrefix("/docs").Handler(httpSwagger.Handler(
		httpSwagger.URL("/v1/docs/swagger.json"),
	))

	return router
}

// swaggerDocHandler serves the hand-maintained OpenAPI document
// backing the /docs Swagger UI. There's no build-time swag generator
// in this tree, so the document is a literal rather than generated.
func swaggerDocHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(swaggerDoc))
}

func setupOperationRoutes(router *mux.Router, cfg Config) {
	ops := router.PathPrefix("/operations").Subrouter()
	ops.HandleFunc("", submitOperationHandler(cfg)).Methods(http.MethodPost)
	ops.HandleFunc("", listActiveOperationsHandler(cfg)).Methods(http.MethodGet)
	ops.HandleFunc("/{id}", getOperationHandler(cfg)).Methods(http.MethodGet)
	ops.HandleFunc("/{id}/cancel", cancelOperationHandler(cfg)).Methods(http.MethodPost)
	ops.HandleFunc("/{id}/tuning", updateTuningHandler(cfg)).Methods(http.MethodPatch)

	router.HandleFunc("/sync/pause", pauseSyncHandler(cfg)).Methods(http.MethodPost)
	router.HandleFunc("/sync/resume", resumeSyncHandler(cfg)).Methods(http.MethodPost)
	router.HandleFunc("/sync/stats", syncStatsHandler(cfg)).Methods(http.MethodGet)
}

func setupSCMRoutes(router *mux.Router, cfg Config) {
	scmRouter := router.PathPrefix("/scm").Subrouter()
	scmRouter.HandleFunc("/commits", createCommitHandler(cfg)).Methods(http.MethodPost)
	scmRouter.HandleFunc("/commits/{hash}", getCommitHandler(cfg)).Methods(http.MethodGet)
	scmRouter.HandleFunc("/commits", listCommitsHandler(cfg)).Methods(http.MethodGet)
}

func setupSessionRoutes(router *mux.Router, cfg Config) {
	if cfg.Hub == nil {
		return
	}
	router.HandleFunc("/sessions/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		cfg.Hub.ServeSession(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)
}

func healthHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		checks := map[string]string{"coordinator": "healthy"}
		if cfg.Coordinator == nil {
			status = "degraded"
			checks["coordinator"] = "unavailable"
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "checks": checks})
	}
}

func requestLoggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("http request",
				"method", r.Method, "path", r.URL.Path,
				"status", sw.status, "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
