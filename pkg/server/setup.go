package server

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/door"
	"github.com/nicktill/roomwatch/pkg/export"
	"github.com/nicktill/roomwatch/pkg/metrics"
	"github.com/nicktill/roomwatch/pkg/mode"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/retention"
	"github.com/nicktill/roomwatch/pkg/server/monitor"
	"github.com/nicktill/roomwatch/pkg/storage"
	"github.com/nicktill/roomwatch/pkg/storage/badger"
	"github.com/nicktill/roomwatch/pkg/storage/memory"
	"github.com/nicktill/roomwatch/pkg/storage/postgres"
	"github.com/nicktill/roomwatch/pkg/usage"
)

// InitializeStorage opens the event log selected by cfg.StorageBackend.
func InitializeStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.EventLog, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage, events are lost on restart")
		return memory.New(), nil

	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL event log")
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil

	case config.BackendBadger, "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		logger.Info("opening BadgerDB event log", zap.String("path", cfg.DataDir))
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// Components are the long-lived services behind the HTTP routes.
type Components struct {
	Events    storage.EventLog
	Registry  registry.Registry
	Mode      *mode.Switch
	Metrics   *metrics.Metrics
	Recorder  *door.Recorder
	Usage     *usage.Service
	Pruner    *retention.Pruner
	Retention *monitor.RetentionMonitor
	Storage   *monitor.StorageMonitor
}

// InitializeComponents wires the services around an open event log.
func InitializeComponents(cfg config.Config, events storage.EventLog, reg registry.Registry, logger *zap.Logger) (*Components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	initial, err := mode.Parse(cfg.InitialMode)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	sw := mode.New(initial)

	c := &Components{
		Events:   events,
		Registry: reg,
		Mode:     sw,
		Metrics:  m,
		Recorder: door.NewRecorder(events, reg, sw, door.Options{
			Debounce: cfg.Debounce,
			Logger:   logger,
			Metrics:  m,
		}),
		Usage: usage.NewService(events, reg, sw, usage.Options{
			Location: loc,
			Logger:   logger,
			Metrics:  m,
		}),
		Pruner: retention.New(events, cfg.Retention, retention.Options{
			Logger:  logger,
			Metrics: m,
		}),
		Retention: monitor.NewRetentionMonitor(2 * config.RetentionInterval),
		Storage:   monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes()),
	}
	logger.Info("components ready",
		zap.String("mode", initial.String()),
		zap.Duration("debounce", cfg.Debounce),
		zap.Duration("retention", cfg.Retention),
		zap.String("timezone", loc.String()))
	return c, nil
}

// Handlers are the HTTP handlers built from Components.
type Handlers struct {
	Door   *door.Handler
	Usage  *usage.Handler
	Export *export.Handler
	Mode   *mode.Handler
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(c *Components, logger *zap.Logger) *Handlers {
	usageHandler := usage.NewHandler(c.Usage, c.Registry, logger)
	return &Handlers{
		Door:   door.NewHandler(c.Recorder, logger),
		Usage:  usageHandler,
		Export: export.NewHandler(c.Events, c.Registry, usageHandler, logger),
		Mode:   mode.NewHandler(c.Mode, logger),
	}
}
