package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imedwei/clinic-backup/internal/health"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the backup schedule",
		Long:  "Serve the backup API, health and metrics endpoints, and fire scheduled backups until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, "")
	if err != nil {
		return err
	}
	logger := a.logger
	logger.Info("Backup service starting",
		"config_file", a.cfg.ConfigFile,
		"destinations", len(a.store.Destinations()),
		"schedule_enabled", a.cell.Load().Enabled,
		"database_configured", a.cfg.DatabaseURL != "",
	)

	engine := schedule.NewEngine(a.cell, a.service.RunScheduled,
		schedule.WithTickInterval(a.cfg.TickInterval),
		schedule.WithLogger(logger),
	)

	serverConfig := server.DefaultConfig()
	serverConfig.Port = a.cfg.HTTPPort
	httpServer := server.New(serverConfig, a.service, logger)
	httpServer.RegisterHealthCheck("last_run", health.LastRunCheck(a.service.LastReport))
	httpServer.RegisterHealthCheck("schedule", health.ScheduleCheck(a.cell))

	if err := runServer(ctx, httpServer, engine, serverConfig.ShutdownTimeout, logger); err != nil {
		return err
	}
	logger.Info("Backup service stopped")
	return nil
}

// httpListener is the part of *server.Server that serve drives.
type httpListener interface {
	Start() error
	Shutdown(ctx context.Context) error
	SetReady(ready bool)
}

// scheduleRunner is the part of *schedule.Engine that serve drives.
type scheduleRunner interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// runServer starts the schedule, then the listener, and blocks until ctx ends
// or the listener fails. A listener failure is returned after shutdown.
func runServer(ctx context.Context, srv httpListener, engine scheduleRunner, shutdownTimeout time.Duration, logger *slog.Logger) error {
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	if err := engine.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start schedule: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	srv.SetReady(true)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", "error", err)
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}
	srv.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	// In-flight scheduled runs observe runCtx and abort their uploads.
	cancelRuns()
	if err := engine.Shutdown(); err != nil {
		logger.Error("Schedule shutdown failed", "error", err)
	}
	return serveErr
}
