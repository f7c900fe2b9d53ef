/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the field-service settlement server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment, parse command-line flags
  2. Register report types and apply the report policy file
  3. Initialize SQLite store, blob store and reconcile locker
  4. Wire coordinator, reconciler, dispatcher and report service
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port
  -db      SQLite database path; ":memory:" for an in-memory database

ENVIRONMENT:
  See config/config.go. The most common ones:
  DB_PATH, LOG_LEVEL, EDIT_WINDOW_DAYS, REDIS_ADDR, BLOB_DRIVER,
  BLOB_S3_BUCKET, REPORT_POLICY_FILE, SWEEP_INTERVAL_S

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete
  3. Stop the reconcile sweep and wait for in-flight passes
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - engine/service.go: Report workflow
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/warp/fieldservice-engine/api"
	"github.com/warp/fieldservice-engine/blob"
	"github.com/warp/fieldservice-engine/config"
	"github.com/warp/fieldservice-engine/engine"
	"github.com/warp/fieldservice-engine/factory"
	"github.com/warp/fieldservice-engine/lock"
	"github.com/warp/fieldservice-engine/metrics"
	"github.com/warp/fieldservice-engine/reports"
	"github.com/warp/fieldservice-engine/store/sqlite"
)

const moduleName = "main"

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides HTTP_ADDR)")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	if *port != 0 {
		cfg.HTTPAddr = fmt.Sprintf(":%d", *port)
	}
	cfg.DBPath = *dbPath

	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		config.LogError(logger, moduleName, "main", "startup", nil, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	// Report types and policy
	reports.Register()
	descriptors := factory.NewDescriptorFactory()
	if err := descriptors.ApplyEditWindow(cfg.EditWindowDays); err != nil {
		return err
	}
	if cfg.ReportPolicyFile != "" {
		if _, err := descriptors.LoadFile(cfg.ReportPolicyFile); err != nil {
			return err
		}
	}

	// Infrastructure
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("initialize blob store: %w", err)
	}

	var locker engine.KeyLocker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		client, err := lock.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		locker = lock.NewRedis(client, lock.DefaultTTL, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)

	// Engine
	coordinator := engine.NewCoordinator(store)
	coordinator.MaxAttempts = cfg.TxMaxAttempts
	coordinator.Observer = recorder

	reconciler := engine.NewReconciler(store)
	reconciler.Locker = locker
	reconciler.Observer = recorder

	dispatcher := api.NewReconcileDispatcher(reconciler, logger)
	dispatcher.Timeout = cfg.ReconcileTimeout
	dispatcher.SweepInterval = cfg.SweepInterval
	dispatcher.Start()
	defer dispatcher.Stop()

	service := engine.NewReportService(store, coordinator)
	service.Holidays = store
	service.Blobs = blobs
	service.Reconcile = dispatcher
	service.Log = logger

	// HTTP
	handler := api.NewHandler(store, service, reconciler, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		Metrics:        recorder.Handler(),
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
