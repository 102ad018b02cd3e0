package usage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/httpx"
	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/registry"
)

// minuteLayout is accepted by /fetch/log in addition to DateLayout.
const minuteLayout = "200601021504"

// StatusResponse is the body of /fetch/status.
type StatusResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Status  []occupancy.GroupStatus `json:"status"`
}

// LogsResponse is the body of /logs and /fetch/log.
type LogsResponse struct {
	Success     bool                   `json:"success"`
	Message     string                 `json:"message"`
	Graphs      []Graph                `json:"graphs"`
	Corrections []occupancy.Correction `json:"corrections,omitempty"`
	Excluded    []string               `json:"excluded,omitempty"`
	Notes       []string               `json:"notes,omitempty"`
}

// RegistryResponse is the body of /v1/registry.
type RegistryResponse struct {
	Groups   []occupancy.Group  `json:"groups"`
	Entities []occupancy.Entity `json:"entities"`
}

// Handler serves the read endpoints.
type Handler struct {
	svc    *Service
	reg    registry.Registry
	logger *zap.Logger
}

// NewHandler creates a usage handler.
func NewHandler(svc *Service, reg registry.Registry, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, reg: reg, logger: logger}
}

// HandleStatus handles GET /fetch/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatusTimeout)
	defer cancel()

	statuses, err := h.svc.Status(ctx)
	if errors.Is(err, ErrStopped) {
		httpx.RespondResult(w, http.StatusOK, false, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("status query failed", zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, StatusResponse{Success: true, Status: statuses})
}

// HandleLogs handles GET /logs/.
func (h *Handler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	report, ok := h.LogsReport(w, r)
	if !ok {
		return
	}
	h.respondReport(w, report)
}

// LogsReport parses /logs parameters and computes the report. On failure it
// writes the error response itself and returns false.
func (h *Handler) LogsReport(w http.ResponseWriter, r *http.Request) (*Report, bool) {
	params, err := ParseLogParams(r.URL.Query(), h.svc.Now(), h.svc.Location())
	if err != nil {
		httpx.RespondResult(w, http.StatusBadRequest, false, err.Error())
		return nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	report, err := h.svc.Report(ctx, params)
	return h.checkReport(w, report, err)
}

// HandleMinuteLog handles GET /fetch/log/{begin}/{end}/{step_minutes}.
func (h *Handler) HandleMinuteLog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	loc := h.svc.Location()

	begin, err := parseMoment(vars["begin"], loc)
	if err != nil {
		httpx.RespondResult(w, http.StatusBadRequest, false, fmt.Sprintf("begin: %v", err))
		return
	}
	end, err := parseMoment(vars["end"], loc)
	if err != nil {
		httpx.RespondResult(w, http.StatusBadRequest, false, fmt.Sprintf("end: %v", err))
		return
	}
	step, err := strconv.Atoi(vars["step_minutes"])
	if err != nil {
		httpx.RespondResult(w, http.StatusBadRequest, false, fmt.Sprintf("step_minutes: invalid integer %q", vars["step_minutes"]))
		return
	}
	if span := end.Sub(begin); span > config.MaxLogWindow || -span > config.MaxLogWindow {
		httpx.RespondResult(w, http.StatusBadRequest, false, "date range is too large")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	report, err := h.svc.MinuteReport(ctx, begin, end, step)
	if report, ok := h.checkReport(w, report, err); ok {
		h.respondReport(w, report)
	}
}

// HandleRegistry handles GET /v1/registry.
func (h *Handler) HandleRegistry(w http.ResponseWriter, r *http.Request) {
	groups, err := h.reg.ListGroups(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	entities, err := h.reg.ListEntities(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, RegistryResponse{Groups: groups, Entities: entities})
}

func (h *Handler) checkReport(w http.ResponseWriter, report *Report, err error) (*Report, bool) {
	switch {
	case errors.Is(err, ErrStopped):
		httpx.RespondResult(w, http.StatusOK, false, err.Error())
		return nil, false
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondErrorString(w, http.StatusGatewayTimeout, "report timed out")
		return nil, false
	case err != nil:
		h.logger.Error("usage report failed", zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to compute report")
		return nil, false
	}
	return report, true
}

func (h *Handler) respondReport(w http.ResponseWriter, report *Report) {
	resp := LogsResponse{
		Success:     true,
		Graphs:      report.Graphs(),
		Corrections: report.Corrections,
		Excluded:    report.Excluded,
	}
	if report.Unit == UnitHours {
		resp.Notes = []string{PreWindowNote}
	}
	if len(report.Buckets) == 0 {
		resp.Message = "no buckets in the requested range"
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// parseMoment accepts YYYYMMDD or YYYYMMDDHHMM.
func parseMoment(s string, loc *time.Location) (time.Time, error) {
	if len(s) == len(minuteLayout) {
		t, err := time.ParseInLocation(minuteLayout, s, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q, want YYYYMMDDHHMM", s)
		}
		return t, nil
	}
	return ParseDate(s, loc)
}
