// Package mode holds the system-wide running/stopped switch. While stopped,
// door events are rejected and usage endpoints answer with a failure
// envelope.
package mode

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/httpx"
)

// State is the system mode. The numeric values are part of the API.
type State int

const (
	Stopped State = 0
	Running State = 1
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Parse converts "running"/"stopped" (or "1"/"0") into a State.
func Parse(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "1":
		return Running, nil
	case "stopped", "0":
		return Stopped, nil
	}
	return Stopped, fmt.Errorf("unknown mode %q", s)
}

// Switch is a concurrency-safe holder of the current State.
type Switch struct {
	mu      sync.RWMutex
	state   State
	changed time.Time
}

// New creates a Switch in the initial state.
func New(initial State) *Switch {
	return &Switch{state: initial, changed: time.Now()}
}

// State returns the current state.
func (s *Switch) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Running reports whether the system accepts events.
func (s *Switch) Running() bool {
	return s.State() == Running
}

// ChangedAt returns when the state last changed.
func (s *Switch) ChangedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Set changes the state.
func (s *Switch) Set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		s.state = state
		s.changed = time.Now()
	}
}

// Toggle flips the state and returns the new one.
func (s *Switch) Toggle() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		s.state = Stopped
	} else {
		s.state = Running
	}
	s.changed = time.Now()
	return s.state
}

// ToggleResponse is returned by PATCH /emergency.
type ToggleResponse struct {
	Valid  State  `json:"valid"`
	Action string `json:"action"`
}

// StatusResponse is returned by GET /v1/mode.
type StatusResponse struct {
	Valid     State     `json:"valid"`
	Mode      string    `json:"mode"`
	ChangedAt time.Time `json:"changed_at"`
}

// Handler exposes the switch over HTTP.
type Handler struct {
	sw     *Switch
	logger *zap.Logger
}

// NewHandler creates a mode handler.
func NewHandler(sw *Switch, logger *zap.Logger) *Handler {
	return &Handler{sw: sw, logger: logger}
}

// HandleToggle flips between running and stopped.
func (h *Handler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	state := h.sw.Toggle()
	action := "resumed"
	if state == Stopped {
		action = "stopped"
	}
	h.logger.Warn("system mode changed", zap.String("mode", state.String()), zap.String("remote", r.RemoteAddr))
	httpx.RespondJSON(w, http.StatusOK, ToggleResponse{Valid: state, Action: action})
}

// HandleStatus reports the current mode.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, StatusResponse{
		Valid:     h.sw.State(),
		Mode:      h.sw.State().String(),
		ChangedAt: h.sw.ChangedAt(),
	})
}
