package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nicktill/roomwatch/pkg/config"
	"github.com/nicktill/roomwatch/pkg/door"
	"github.com/nicktill/roomwatch/pkg/logging"
	"github.com/nicktill/roomwatch/pkg/registry"
	"github.com/nicktill/roomwatch/pkg/server"
	"github.com/nicktill/roomwatch/pkg/storage"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 60 * time.Second
	shutdownTimeout    = 30 * time.Second
	backgroundTimeout  = 5 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("roomwatch exited cleanly")
}

// app is a fully wired server, without the listener.
type app struct {
	handler    http.Handler
	components *server.Components
}

func newApp(ctx context.Context, cfg config.Config, events storage.EventLog, logger *zap.Logger) (*app, error) {
	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	entities, _ := reg.ListEntities(ctx)
	groups, _ := reg.ListGroups(ctx)
	logger.Info("registry loaded",
		zap.String("path", cfg.RegistryPath),
		zap.Int("entities", len(entities)),
		zap.Int("groups", len(groups)))

	c, err := server.InitializeComponents(cfg, events, reg, logger)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, c, server.InitializeHandlers(c, logger))
	return &app{
		handler:    server.Wrap(router, cfg.CORSOrigins, logger),
		components: c,
	}, nil
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting roomwatch",
		zap.String("port", cfg.Port),
		zap.String("storage", cfg.StorageBackend),
		zap.Int64("max_storage_gb", cfg.MaxStorageGB),
		zap.Int64("max_memory_mb", cfg.MaxMemoryMB))

	events, err := server.InitializeStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	a, err := newApp(ctx, cfg, events, logger)
	if err != nil {
		return err
	}
	c := a.components

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	var wg sync.WaitGroup

	wg.Add(2)
	go server.RunRetention(bgCtx, c.Pruner, c.Retention, logger, &wg)
	go server.RunBadgerGC(bgCtx, c.Events, logger, &wg)

	var subscriber *door.Subscriber
	if cfg.MQTT.Broker != "" {
		subscriber = door.NewSubscriber(cfg.MQTT, c.Recorder, logger)
		if err := subscriber.Start(ctx); err != nil {
			logger.Error("MQTT subscriber unavailable, continuing with HTTP only",
				zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
			subscriber = nil
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		cancelBackground()
		return fmt.Errorf("listen: %w", err)
	}

	if subscriber != nil {
		subscriber.Stop()
	}
	cancelBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(backgroundTimeout):
		logger.Warn("background tasks did not stop in time")
	}
	return nil
}
