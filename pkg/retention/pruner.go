// Package retention removes door events that have aged out of the retention
// window.
//
// The newest event of every room is never pruned: it is the only record of
// whether the room is currently occupied, and the status snapshot reads it.
// A room that has been idle for longer than the window therefore keeps a
// single event.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/metrics"
	"github.com/nicktill/roomwatch/pkg/storage"
)

// Pruner deletes events older than a fixed window.
type Pruner struct {
	events  storage.EventLog
	window  time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Options tunes a Pruner. Zero values select the defaults.
type Options struct {
	Clock   func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// New creates a pruner keeping window worth of events.
func New(events storage.EventLog, window time.Duration, opts Options) *Pruner {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pruner{
		events:  events,
		window:  window,
		now:     opts.Clock,
		logger:  opts.Logger.Named("retention"),
		metrics: opts.Metrics,
	}
}

// Window returns the retention window.
func (p *Pruner) Window() time.Duration { return p.window }

// Cutoff is the instant before which events are eligible for deletion.
func (p *Pruner) Cutoff() time.Time {
	return p.now().Add(-p.window)
}

// Prune deletes expired events and returns how many were removed. A
// non-positive window disables pruning.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.window <= 0 {
		return 0, nil
	}

	cutoff := p.Cutoff()
	deleted, err := p.events.Delete(ctx, storage.DeleteOptions{
		Before:     cutoff,
		KeepLatest: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune events before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	p.metrics.AddRetentionDeleted(deleted)
	if deleted > 0 {
		p.logger.Info("pruned expired events",
			zap.Int("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}
