// Package door is the write side of roomwatch: it turns door open/close
// reports from HTTP, WebSocket and MQTT clients into events in the log.
package door

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/metrics"
	"github.com/nicktill/roomwatch/pkg/mode"
	"github.com/nicktill/roomwatch/pkg/occupancy"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/storage"
)

const lockStripes = 64

// Reason explains why a door event was not recorded.
type Reason string

const (
	ReasonSystemStopped Reason = "system_stopped"
	ReasonUnknownEntity Reason = "unknown_entity"
	ReasonDuplicate     Reason = "duplicate"
	ReasonTooFrequent   Reason = "too_frequent"
)

// Result is the outcome of one door report. Rejections are results, not
// errors; an error from Record means the event log failed.
type Result struct {
	Success bool             `json:"success"`
	Reason  Reason           `json:"reason,omitempty"`
	Message string           `json:"message"`
	Event   *occupancy.Event `json:"event,omitempty"`
}

// Options tunes a Recorder. Zero values select the defaults.
type Options struct {
	Debounce time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// Recorder validates door reports and appends accepted ones to the log.
// Reports for the same room are serialized.
type Recorder struct {
	events   storage.EventLog
	reg      registry.Registry
	mode     *mode.Switch
	debounce time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics

	locks [lockStripes]sync.Mutex
}

// NewRecorder creates a Recorder.
func NewRecorder(events storage.EventLog, reg registry.Registry, sw *mode.Switch, opts Options) *Recorder {
	if opts.Debounce == 0 {
		opts.Debounce = config.DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Recorder{
		events:   events,
		reg:      reg,
		mode:     sw,
		debounce: opts.Debounce,
		now:      opts.Clock,
		logger:   opts.Logger.Named("door"),
		metrics:  opts.Metrics,
	}
}

// Record reports that the door of entityID closed (occupied) or opened.
func (r *Recorder) Record(ctx context.Context, entityID string, closed bool) (Result, error) {
	log := r.logger.With(zap.String("entity", entityID), zap.Bool("closed", closed))

	if !r.mode.Running() {
		return r.reject(log, ReasonSystemStopped, "system is stopped; door events are not recorded"), nil
	}

	entity, err := r.reg.Entity(ctx, entityID)
	if errors.Is(err, registry.ErrUnknownEntity) {
		res := r.reject(log, ReasonUnknownEntity, fmt.Sprintf("room #%s is not registered", entityID))
		log.Error("door event for unknown room")
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup room %s: %w", entityID, err)
	}

	mu := &r.locks[xxhash.Sum64String(entityID)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	latest, err := r.events.LatestEvent(ctx, entityID)
	if err != nil {
		return Result{}, fmt.Errorf("latest event of room %s: %w", entityID, err)
	}

	current := entity.DefaultClosed
	if latest != nil {
		current = latest.Closed
	}
	if current == closed {
		state := "vacant"
		if closed {
			state = "in use"
		}
		return r.reject(log, ReasonDuplicate, fmt.Sprintf("room #%s is already %s", entityID, state)), nil
	}

	now := r.now()
	if latest != nil && now.Sub(latest.Timestamp) < r.debounce {
		res := r.reject(log, ReasonTooFrequent,
			fmt.Sprintf("room #%s changed less than %s ago; try again later", entityID, r.debounce))
		log.Warn("door event debounced", zap.Time("previous", latest.Timestamp))
		return res, nil
	}

	ev := occupancy.Event{EntityID: entityID, Closed: closed, Timestamp: now}
	batch := []occupancy.Event{ev}
	if err := r.events.Append(ctx, batch); err != nil {
		return Result{}, fmt.Errorf("append event of room %s: %w", entityID, err)
	}
	ev = batch[0]

	r.metrics.ObserveDoorEvent(true, "")
	msg := fmt.Sprintf("room #%s is now vacant", entityID)
	if closed {
		msg = fmt.Sprintf("room #%s is now in use", entityID)
	}
	log.Info("door event recorded", zap.String("event_id", ev.ID))
	return Result{Success: true, Message: msg, Event: &ev}, nil
}

func (r *Recorder) reject(log *zap.Logger, reason Reason, msg string) Result {
	r.metrics.ObserveDoorEvent(false, string(reason))
	log.Info("door event rejected", zap.String("reason", string(reason)))
	return Result{Success: false, Reason: reason, Message: msg}
}
