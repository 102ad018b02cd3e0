package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/retention"
	"github.com/nicktill/roomwatch/pkg/server/monitor"
	"github.com/nicktill/roomwatch/pkg/storage"
	"github.com/nicktill/roomwatch/pkg/storage/badger"
)

const (
	retentionMaxRetries = 3
	retentionBaseDelay  = 30 * time.Second
)

// RunRetention prunes expired events once at startup and then every
// config.RetentionInterval until ctx is cancelled. Failed runs are retried
// with exponential backoff (30s, 60s, 120s).
func RunRetention(ctx context.Context, pruner *retention.Pruner, rm *monitor.RetentionMonitor, logger *zap.Logger, wg *sync.WaitGroup) {
	defer wg.Done()
	runRetention(ctx, pruner, rm, logger, config.RetentionInterval, retentionBaseDelay)
}

func runRetention(ctx context.Context, pruner *retention.Pruner, rm *monitor.RetentionMonitor, logger *zap.Logger, interval, baseDelay time.Duration) {
	logger = logger.Named("retention")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runWithRetry := func() {
		for attempt := 0; attempt <= retentionMaxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1))
				logger.Info("retrying retention",
					zap.Duration("delay", delay),
					zap.Int("attempt", attempt+1))
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}

			start := time.Now()
			deleted, err := pruner.Prune(ctx)
			if err == nil {
				rm.RecordSuccess(deleted)
				logger.Info("retention completed",
					zap.Int("deleted", deleted),
					zap.Duration("took", time.Since(start).Round(time.Millisecond)))
				return
			}
			if ctx.Err() != nil {
				return
			}

			rm.RecordFailure(err)
			logger.Warn("retention failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if status := rm.Status(); status.ConsecutiveErrors > retentionMaxRetries {
				logger.Error("retention keeps failing", zap.Int("consecutive_errors", status.ConsecutiveErrors))
			}
		}
		logger.Warn("retention gave up, will retry on next schedule", zap.Int("attempts", retentionMaxRetries+1))
	}

	runWithRetry()
	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-ctx.Done():
			logger.Info("stopping retention scheduler")
			return
		}
	}
}

// RunBadgerGC reclaims badger value log space every config.BadgerGCInterval.
// It returns immediately for other backends.
func RunBadgerGC(ctx context.Context, events storage.EventLog, logger *zap.Logger, wg *sync.WaitGroup) {
	defer wg.Done()

	store, ok := events.(*badger.Storage)
	if !ok {
		logger.Debug("storage is not BadgerDB, skipping GC")
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()
	logger.Info("BadgerDB GC scheduler started", zap.Duration("interval", config.BadgerGCInterval))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				logger.Warn("BadgerDB GC failed", zap.Error(err))
				continue
			}
			logger.Debug("BadgerDB GC completed", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
		case <-ctx.Done():
			logger.Info("stopping BadgerDB GC scheduler")
			return
		}
	}
}
