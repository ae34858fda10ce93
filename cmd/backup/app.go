package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/backup"
	"github.com/imedwei/clinic-backup/internal/config"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

var errNoProducer = errors.New("DATABASE_URL is not set and no --file was given")

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *storage.Registry
	store    *config.Store
	cell     *schedule.Cell
	service  *backup.Service
}

func loadDotEnv(files []string) {
	config.LoadDotEnv(files...)
}

// newApp loads configuration and wires the backup service. file, when set,
// replaces the database dump with an existing file.
func newApp(ctx context.Context, file string) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	registry := storage.NewRegistry(storage.Options{
		UploadTimeout: cfg.UploadTimeout(),
		Logger:        logger,
	})

	store := config.NewStore(cfg.ConfigFile, cfg.Prefix(), registry.ValidateConfig, logger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", cfg.ConfigFile, err)
	}

	cell, err := schedule.NewCell(store.Schedule())
	if err != nil {
		return nil, err
	}

	service := backup.NewService(store, registry, newProducer(cfg, file, logger), cell, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		cell:     cell,
		service:  service,
	}, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func newProducer(cfg *config.Config, file string, logger *slog.Logger) artifact.Producer {
	if file != "" {
		return artifact.FileProducer{Path: file}
	}
	if cfg.DatabaseURL == "" {
		return noProducer{}
	}
	return artifact.NewPostgresProducer(artifact.PostgresConfig{
		ConnectionURL: cfg.DatabaseURL,
		PGDumpBin:     cfg.PGDumpBin,
		PGDumpOptions: cfg.PGDumpOptions,
		WorkDir:       cfg.WorkDir,
		Prefix:        cfg.Prefix(),
	}, logger)
}

// noProducer fails every run. Cleanup and connection tests still work.
type noProducer struct{}

func (noProducer) Produce(context.Context) (*artifact.Artifact, error) {
	return nil, errNoProducer
}
