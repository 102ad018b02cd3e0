package export

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/httpx"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/storage"
	"github.com/nicktill/roomwatch/pkg/usage"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	reports  *usage.Handler
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new export/import handler. reports computes the
// usage reports served by HandleReportExport.
func NewHandler(events storage.EventLog, reg registry.Registry, reports *usage.Handler, logger *zap.Logger) *Handler {
	return &Handler{
		exporter: NewExporter(events),
		importer: NewImporter(events, reg),
		reports:  reports,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
//   - entity: entity id filter, repeatable (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != FormatCSV {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json' or 'csv'")
		return
	}

	end := parseTimeParam(query.Get("end"), h.now())
	start := parseTimeParam(query.Get("start"), end.Add(-config.DefaultExportWindow))
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > config.MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", config.MaxExportWindow))
		return
	}

	opts := ExportOptions{Start: start, End: end, EntityIDs: query["entity"]}

	// Headers go out before the body, so a late failure can only be logged.
	filename := "roomwatch-events-" + h.now().Format("20060102-150405")
	var (
		result *ExportResult
		err    error
	)
	if format == "json" {
		setAttachment(w, "application/json", filename+".json")
		result, err = h.exporter.ExportToJSON(r.Context(), w, opts)
	} else {
		setAttachment(w, "text/csv", filename+".csv")
		result, err = h.exporter.ExportToCSV(r.Context(), w, opts)
	}
	if err != nil {
		h.logger.Error("export failed", zap.String("format", format), zap.Error(err))
		return
	}

	h.logger.Info("exported events",
		zap.Int("events", result.EventsExported),
		zap.String("format", format),
		zap.String("range", result.TimeRange))
}

// HandleImport handles POST /v1/import. The body is a JSON backup
// (application/json) or CSV rows (text/csv).
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/csv")
		return
	}

	body := http.MaxBytesReader(w, r.Body, config.MaxImportBytes)
	var result *ImportResult
	switch mediaType {
	case "application/json":
		result, err = h.importer.ImportFromJSON(r.Context(), body)
	case "text/csv":
		result, err = h.importer.ImportFromCSV(r.Context(), body)
	default:
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/csv")
		return
	}
	if err != nil {
		h.logger.Error("import failed", zap.Error(err))
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("import failed: %w", err))
		return
	}

	if n := len(result.Errors); n > 0 {
		shown := result.Errors
		if n > 10 {
			shown = shown[:10]
		}
		h.logger.Warn("import completed with validation errors",
			zap.Int("count", n),
			zap.Strings("first", shown))
	}
	h.logger.Info("imported events",
		zap.Int("events", result.EventsImported),
		zap.Int("duplicates", result.DuplicatesSkipped),
		zap.Int("batches", result.BatchesWritten),
		zap.String("range", result.TimeRange))

	httpx.RespondJSON(w, http.StatusOK, result)
}

// HandleReportExport handles GET /v1/logs/export?format=csv|xlsx|pdf with the
// same window parameters as /logs.
func (h *Handler) HandleReportExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX && format != FormatPDF {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'csv', 'xlsx' or 'pdf'")
		return
	}

	report, ok := h.reports.LogsReport(w, r)
	if !ok {
		return
	}

	filename := "roomwatch-usage-" + h.now().Format("20060102-150405") + "." + format
	switch format {
	case FormatCSV:
		setAttachment(w, "text/csv", filename)
		if err := WriteReportCSV(w, report); err != nil {
			h.logger.Error("report export failed", zap.String("format", format), zap.Error(err))
		}
		return
	case FormatXLSX:
		data, err := BuildReportXLSX(report)
		h.respondFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename, data, err)
	case FormatPDF:
		data, err := BuildReportPDF(report)
		h.respondFile(w, "application/pdf", filename, data, err)
	}
}

func (h *Handler) respondFile(w http.ResponseWriter, contentType, filename string, data []byte, err error) {
	if err != nil {
		h.logger.Error("report export failed", zap.String("file", filename), zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	setAttachment(w, contentType, filename)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write report", zap.Error(err))
	}
}

func setAttachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
}

// parseTimeParam parses a time parameter or returns default
func parseTimeParam(param string, defaultTime time.Time) time.Time {
	if param == "" {
		return defaultTime
	}
	if t, err := time.Parse(time.RFC3339, param); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", param); err == nil {
		return t
	}
	return defaultTime
}
