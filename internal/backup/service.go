package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/metrics"
	"github.com/imedwei/clinic-backup/internal/retention"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is in flight.
	ErrRunInProgress = errors.New("a backup run is already in progress")
	// ErrInvalidRequest marks requests rejected before any run starts.
	ErrInvalidRequest = errors.New("invalid backup request")
	// ErrUnknownDestination is returned for destination ids missing from the store.
	ErrUnknownDestination = errors.New("unknown destination")
	// ErrNoDestinations is returned when a run would have nothing to do.
	ErrNoDestinations = errors.New("no enabled destinations")
)

// Store is the configuration the service reads at run time.
type Store interface {
	Destinations() []storage.Config
	Retention() retention.Policy
	Schedule() schedule.Config
	SaveSchedule(cfg schedule.Config) error
	Reload() error
}

// Registry resolves and validates destination adapters.
type Registry interface {
	Adapters
	ValidateConfig(cfg storage.Config) error
}

// RunRequest restricts a manual run. Zero values mean every enabled
// destination and the configured retention.
type RunRequest struct {
	DestinationIDs        []string `json:"destinationIds,omitempty"`
	RetentionOverrideDays int      `json:"retentionOverrideDays,omitempty"`
	SkipCleanup           bool     `json:"skipCleanup,omitempty"`
	Trigger               Trigger  `json:"-"`
}

// Service is the entry point used by the HTTP API, the CLI and the schedule.
// Runs are serialized: at most one is in flight at any time.
type Service struct {
	store        Store
	registry     Registry
	producer     artifact.Producer
	orchestrator *Orchestrator
	cell         *schedule.Cell
	logger       *slog.Logger

	running    sync.Mutex
	lastReport atomic.Pointer[Report]
}

// NewService wires the service.
func NewService(store Store, registry Registry, producer artifact.Producer, cell *schedule.Cell, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		registry:     registry,
		producer:     producer,
		orchestrator: NewOrchestrator(registry, logger),
		cell:         cell,
		logger:       logger.With("component", "backup-service"),
	}
}

// RunBackup produces an artifact and distributes it. Manual runs never
// change the stored configuration.
func (s *Service) RunBackup(ctx context.Context, req RunRequest) (*Report, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	dests, opts, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	art, err := s.producer.Produce(ctx)
	if err != nil {
		metrics.RecordRun(string(req.Trigger), false)
		return nil, fmt.Errorf("failed to produce backup artifact: %w", err)
	}
	defer func() {
		if err := art.Release(); err != nil {
			s.logger.Warn("Failed to remove artifact", "error", err)
		}
	}()
	metrics.ArtifactSize.Set(float64(art.Size))

	report := s.orchestrator.Run(ctx, art, dests, opts)
	s.lastReport.Store(report)
	return report, nil
}

// Cleanup applies retention to the requested destinations without uploading.
func (s *Service) Cleanup(ctx context.Context, req RunRequest) (*Report, error) {
	if req.Trigger == "" {
		req.Trigger = TriggerCleanup
	}
	dests, opts, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	report := s.orchestrator.Cleanup(ctx, dests, opts)
	s.lastReport.Store(report)
	return report, nil
}

// RunScheduled is the schedule engine's run callback.
func (s *Service) RunScheduled(ctx context.Context, firedAt time.Time) {
	report, err := s.RunBackup(ctx, RunRequest{Trigger: TriggerScheduled})
	switch {
	case errors.Is(err, ErrRunInProgress):
		metrics.RunsSkipped.Inc()
		s.logger.Warn("Skipping scheduled run, another run is in progress", "fired_at", firedAt)
	case err != nil:
		s.logger.Error("Scheduled backup failed", "fired_at", firedAt, "error", err)
	default:
		s.logger.Info("Scheduled backup finished", "run_id", report.RunID, "ok", report.OK())
	}
}

// TestDestination validates cfg and probes the destination.
func (s *Service) TestDestination(ctx context.Context, cfg storage.Config) storage.TestResult {
	if err := s.registry.ValidateConfig(cfg); err != nil {
		return storage.TestResult{Error: err.Error(), ErrorKind: storage.KindOf(err)}
	}
	return s.orchestrator.Test(ctx, cfg)
}

// Schedule returns the active schedule.
func (s *Service) Schedule() schedule.Config {
	return s.cell.Load()
}

// UpdateSchedule validates cfg, persists it and swaps it in. Runs already in
// flight are not affected.
func (s *Service) UpdateSchedule(ctx context.Context, cfg schedule.Config) (schedule.Config, error) {
	norm, err := cfg.Normalize()
	if err != nil {
		return schedule.Config{}, err
	}
	if err := s.store.SaveSchedule(norm); err != nil {
		return schedule.Config{}, fmt.Errorf("failed to persist schedule: %w", err)
	}
	if _, err := s.cell.Replace(norm); err != nil {
		return schedule.Config{}, err
	}

	next, ok := schedule.NextFire(norm, time.Now())
	s.logger.Info("Schedule updated",
		"enabled", norm.Enabled,
		"days", norm.Days,
		"times", norm.Times,
		"timezone", norm.Timezone,
		"next_run", lo.Ternary(ok, next.Format(time.RFC3339), "none"),
	)
	return norm, nil
}

// Reload re-reads the configuration store and activates its schedule.
func (s *Service) Reload(ctx context.Context) error {
	if err := s.store.Reload(); err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	if _, err := s.cell.Replace(s.store.Schedule()); err != nil {
		return err
	}
	s.logger.Info("Configuration reloaded", "destinations", len(s.store.Destinations()))
	return nil
}

// LastReport returns the report of the most recent run, or nil.
func (s *Service) LastReport() *Report {
	return s.lastReport.Load()
}

// Destinations lists the configured destinations.
func (s *Service) Destinations() []storage.Config {
	return s.store.Destinations()
}

// prepare resolves the destinations of req and validates everything that
// can be checked before a run starts.
func (s *Service) prepare(req RunRequest) ([]storage.Config, RunOptions, error) {
	if req.RetentionOverrideDays < 0 {
		return nil, RunOptions{}, fmt.Errorf("%w: retentionOverrideDays must not be negative, got %d",
			ErrInvalidRequest, req.RetentionOverrideDays)
	}

	all := s.store.Destinations()
	enabled := lo.Filter(all, func(d storage.Config, _ int) bool { return d.Enabled })

	dests := enabled
	if len(req.DestinationIDs) > 0 {
		dests = make([]storage.Config, 0, len(req.DestinationIDs))
		for _, id := range lo.Uniq(req.DestinationIDs) {
			d, ok := lo.Find(all, func(d storage.Config) bool { return d.ID == id })
			if !ok {
				return nil, RunOptions{}, fmt.Errorf("%w: %s", ErrUnknownDestination, id)
			}
			if !d.Enabled {
				return nil, RunOptions{}, fmt.Errorf("%w: destination %s is disabled", ErrInvalidRequest, id)
			}
			dests = append(dests, d)
		}
	}
	if len(dests) == 0 {
		return nil, RunOptions{}, ErrNoDestinations
	}

	for _, d := range dests {
		if err := s.registry.ValidateConfig(d); err != nil {
			return nil, RunOptions{}, err
		}
	}

	return dests, RunOptions{
		Trigger:               req.Trigger,
		Policy:                s.store.Retention(),
		RetentionOverrideDays: req.RetentionOverrideDays,
		SkipCleanup:           req.SkipCleanup,
	}, nil
}
