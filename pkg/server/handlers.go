package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/httpx"
	"github.com/nicktill/roomwatch/pkg/logging"
	"github.com/nicktill/roomwatch/pkg/server/monitor"
	"github.com/nicktill/roomwatch/pkg/storage"
)

// Version is reported by /v1/health.
const Version = "1.0.0"

var startTime = time.Now()

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version"`
	Uptime    string                  `json:"uptime"`
	Mode      string                  `json:"mode"`
	Retention monitor.RetentionStatus `json:"retention"`
}

// handleHealth reports degraded while retention is failing.
func handleHealth(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK
		if !c.Retention.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:    overallStatus,
			Version:   Version,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Mode:      c.Mode.State().String(),
			Retention: c.Retention.Status(),
		})
	}
}

// handleStorageUsage returns current disk usage of the data directory.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := sm.Status()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, status)
	}
}

// handleStats returns event log statistics.
func handleStats(events storage.EventLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
		defer cancel()

		stats, err := events.Stats(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, stats)
	}
}

// SetupRoutes registers every route on router: the original sensor and
// dashboard endpoints at the root, and the full API under /v1.
func SetupRoutes(router *mux.Router, c *Components, h *Handlers) {
	// Door sensors
	router.HandleFunc("/door/open", h.Door.HandleOpen).Methods(http.MethodPut)
	router.HandleFunc("/door/close", h.Door.HandleClose).Methods(http.MethodPut)

	// Dashboard reads
	router.HandleFunc("/fetch/status", h.Usage.HandleStatus).Methods(http.MethodGet)
	router.HandleFunc("/fetch/log/{begin}/{end}/{step_minutes}", h.Usage.HandleMinuteLog).Methods(http.MethodGet)
	router.HandleFunc("/logs/", h.Usage.HandleLogs).Methods(http.MethodGet)
	router.HandleFunc("/logs", h.Usage.HandleLogs).Methods(http.MethodGet)

	// Emergency stop
	router.HandleFunc("/emergency", h.Mode.HandleToggle).Methods(http.MethodPatch)

	// Prometheus scrape endpoint
	router.Handle("/metrics", c.Metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/rooms/{id}/{action:open|close}", h.Door.HandleRoomEvent).Methods(http.MethodPost)
	api.HandleFunc("/door/ws", h.Door.HandleWebSocket).Methods(http.MethodGet)

	api.HandleFunc("/status", h.Usage.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.Usage.HandleLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/export", h.Export.HandleReportExport).Methods(http.MethodGet)
	api.HandleFunc("/registry", h.Usage.HandleRegistry).Methods(http.MethodGet)

	api.HandleFunc("/mode", h.Mode.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/mode/toggle", h.Mode.HandleToggle).Methods(http.MethodPost)

	api.HandleFunc("/export", h.Export.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", h.Export.HandleImport).Methods(http.MethodPost)

	api.HandleFunc("/stats", handleStats(c.Events)).Methods(http.MethodGet)
	api.HandleFunc("/storage", handleStorageUsage(c.Storage)).Methods(http.MethodGet)
	api.HandleFunc("/health", handleHealth(c)).Methods(http.MethodGet)
}

// Wrap adds CORS, panic recovery and access logging around the router.
func Wrap(router http.Handler, origins []string, logger *zap.Logger) http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(logger.Named("panic"))),
		handlers.PrintRecoveryStack(true),
	)(router)
	return handlers.CombinedLoggingHandler(logging.Writer(logger.Named("access")), cors(recovered))
}
