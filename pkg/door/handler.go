package door

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/httpx"
)

// Handler exposes the Recorder over HTTP.
type Handler struct {
	rec    *Recorder
	logger *zap.Logger
}

// NewHandler creates a door handler.
func NewHandler(rec *Recorder, logger *zap.Logger) *Handler {
	return &Handler{rec: rec, logger: logger}
}

// legacyRequest is the body of PUT /door/open and PUT /door/close. Sensors
// send toilet_id either as a number or as a string.
type legacyRequest struct {
	ToiletID json.RawMessage `json:"toilet_id"`
}

// HandleOpen handles PUT /door/open.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	h.handleLegacy(w, r, false)
}

// HandleClose handles PUT /door/close.
func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	h.handleLegacy(w, r, true)
}

// handleLegacy keeps the original contract: rejections are reported with
// 200 and success=false.
func (h *Handler) handleLegacy(w http.ResponseWriter, r *http.Request, closed bool) {
	var req legacyRequest
	if err := httpx.DecodeJSON(r, config.MaxDoorBodyBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	id, err := parseEntityID(req.ToiletID)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	res, ok := h.record(r.Context(), w, id, closed)
	if !ok {
		return
	}
	httpx.RespondJSON(w, http.StatusOK, res)
}

// HandleRoomEvent handles POST /v1/rooms/{id}/{action} where action is
// "open" or "close".
func (h *Handler) HandleRoomEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := strings.TrimSpace(vars["id"])
	if id == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "room id is required")
		return
	}

	var closed bool
	switch vars["action"] {
	case "open":
		closed = false
	case "close":
		closed = true
	default:
		httpx.RespondErrorString(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", vars["action"]))
		return
	}

	res, ok := h.record(r.Context(), w, id, closed)
	if !ok {
		return
	}
	httpx.RespondJSON(w, statusFor(res), res)
}

func (h *Handler) record(ctx context.Context, w http.ResponseWriter, id string, closed bool) (Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, config.RecordTimeout)
	defer cancel()

	res, err := h.rec.Record(ctx, id, closed)
	if err != nil {
		h.logger.Error("failed to record door event", zap.String("entity", id), zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to record door event")
		return Result{}, false
	}
	return res, true
}

func statusFor(res Result) int {
	switch res.Reason {
	case "":
		return http.StatusOK
	case ReasonSystemStopped:
		return http.StatusServiceUnavailable
	case ReasonUnknownEntity:
		return http.StatusNotFound
	case ReasonDuplicate:
		return http.StatusConflict
	case ReasonTooFrequent:
		return http.StatusTooManyRequests
	}
	return http.StatusBadRequest
}

// parseEntityID accepts a JSON string or number.
func parseEntityID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("toilet_id is required")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return "", errors.New("toilet_id is required")
		}
		return s, nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("toilet_id must be a string or number: %w", err)
	}
	return n.String(), nil
}
