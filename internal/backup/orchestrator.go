// Package backup fans a backup artifact out to the configured destinations
// and prunes old copies per destination.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/metrics"
	"github.com/imedwei/clinic-backup/internal/retention"
	"github.com/imedwei/clinic-backup/internal/storage"
)

// Adapters resolves the adapter serving a destination kind.
type Adapters interface {
	Adapter(kind storage.Kind) storage.Adapter
}

// RunOptions controls one orchestration run.
type RunOptions struct {
	Trigger Trigger

	// Policy is the global retention policy. Its NamePrefix always applies.
	Policy retention.Policy

	// RetentionOverrideDays, when positive, replaces every destination's window.
	RetentionOverrideDays int

	// SkipCleanup runs the upload phase only.
	SkipCleanup bool
}

// Orchestrator coordinates uploads and cleanups across destinations.
type Orchestrator struct {
	adapters Adapters
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates a new backup orchestrator.
func NewOrchestrator(adapters Adapters, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		adapters: adapters,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
	}
}

// Run uploads art to every destination concurrently, then cleans up each
// destination whose upload succeeded. A failing destination never affects
// its siblings; cancelling ctx aborts every in-flight call.
func (o *Orchestrator) Run(ctx context.Context, art *artifact.Artifact, dests []storage.Config, opts RunOptions) *Report {
	report := newReport(opts.Trigger, dests, o.now())
	report.Artifact = &ArtifactInfo{Name: art.Name, Size: art.Size}
	logger := o.logger.With("run_id", report.RunID, "trigger", opts.Trigger)

	logger.Info("Starting backup run",
		"artifact", art.Name,
		"size", artifact.FormatBytes(art.Size),
		"destinations", len(dests),
	)

	// errgroup without a shared context: one failure must not cancel the others
	var uploads errgroup.Group
	for i, d := range dests {
		uploads.Go(func() error {
			res := o.upload(ctx, art, d)
			report.Outcomes[i].Upload = &res
			return nil
		})
	}
	_ = uploads.Wait()

	switch {
	case opts.SkipCleanup:
	case ctx.Err() != nil:
		logger.Warn("Run cancelled, skipping cleanup", "error", ctx.Err())
	default:
		var cleanups errgroup.Group
		for i, d := range dests {
			if !report.Outcomes[i].Upload.OK {
				continue
			}
			cleanups.Go(func() error {
				res := o.cleanup(ctx, d, o.policyFor(d, opts))
				report.Outcomes[i].Cleanup = &res
				return nil
			})
		}
		_ = cleanups.Wait()
	}

	o.finish(logger, report)
	return report
}

// Cleanup prunes every destination without uploading anything.
func (o *Orchestrator) Cleanup(ctx context.Context, dests []storage.Config, opts RunOptions) *Report {
	if opts.Trigger == "" {
		opts.Trigger = TriggerCleanup
	}
	report := newReport(opts.Trigger, dests, o.now())
	logger := o.logger.With("run_id", report.RunID, "trigger", opts.Trigger)
	logger.Info("Starting cleanup", "destinations", len(dests))

	var cleanups errgroup.Group
	for i, d := range dests {
		cleanups.Go(func() error {
			res := o.cleanup(ctx, d, o.policyFor(d, opts))
			report.Outcomes[i].Cleanup = &res
			return nil
		})
	}
	_ = cleanups.Wait()

	o.finish(logger, report)
	return report
}

// Test checks that a destination is reachable and its folder usable.
func (o *Orchestrator) Test(ctx context.Context, d storage.Config) (res storage.TestResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Adapter panicked during test", "destination", d.ID, "panic", r)
			res = storage.TestResult{Error: fmt.Sprintf("adapter panic: %v", r), ErrorKind: "TransferError"}
		}
	}()

	start := time.Now()
	folder, err := o.adapters.Adapter(d.Kind).Validate(ctx, d)
	metrics.RecordDestinationOperation("test", d.ID, string(d.Kind), err == nil, time.Since(start).Seconds())
	if err != nil {
		o.logger.Warn("Destination test failed", "destination", d.ID, "error", err)
		return storage.TestResult{Error: err.Error(), ErrorKind: storage.KindOf(err)}
	}
	return storage.TestResult{OK: true, ResolvedFolder: folder}
}

// policyFor picks the retention window: run override, then destination, then global.
func (o *Orchestrator) policyFor(d storage.Config, opts RunOptions) retention.Policy {
	switch {
	case opts.RetentionOverrideDays > 0:
		return opts.Policy.WithMaxAge(opts.RetentionOverrideDays)
	case d.RetentionDays > 0:
		return opts.Policy.WithMaxAge(d.RetentionDays)
	default:
		return opts.Policy
	}
}

func (o *Orchestrator) upload(ctx context.Context, art *artifact.Artifact, d storage.Config) (res storage.UploadResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Adapter panicked during upload", "destination", d.ID, "panic", r)
			res = storage.UploadResult{
				DestinationID: d.ID,
				Error:         fmt.Sprintf("adapter panic: %v", r),
				ErrorKind:     "TransferError",
			}
		}
		metrics.RecordDestinationOperation("upload", d.ID, string(d.Kind), res.OK, time.Since(start).Seconds())
		if res.OK {
			metrics.LastUploadTimestamp.WithLabelValues(d.ID).Set(float64(time.Now().Unix()))
		}
	}()

	return o.adapters.Adapter(d.Kind).Upload(ctx, art, d)
}

func (o *Orchestrator) cleanup(ctx context.Context, d storage.Config, policy retention.Policy) (res storage.CleanupResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Adapter panicked during cleanup", "destination", d.ID, "panic", r)
			res = storage.CleanupResult{
				DestinationID: d.ID,
				Error:         fmt.Sprintf("adapter panic: %v", r),
				ErrorKind:     "TransferError",
				Detail:        storage.CleanupDetail{DeletedNames: []string{}},
			}
		}
		metrics.RecordDestinationOperation("cleanup", d.ID, string(d.Kind), res.OK, time.Since(start).Seconds())
		metrics.BackupsDeleted.WithLabelValues(d.ID).Add(float64(len(res.Detail.DeletedNames)))
	}()

	if err := policy.Validate(); err != nil {
		return storage.CleanupResult{
			DestinationID: d.ID,
			Error:         err.Error(),
			ErrorKind:     "InvalidConfig",
			Detail:        storage.CleanupDetail{DeletedNames: []string{}},
		}
	}
	return o.adapters.Adapter(d.Kind).Cleanup(ctx, d, policy)
}

func (o *Orchestrator) finish(logger *slog.Logger, report *Report) {
	report.FinishedAt = o.now()
	metrics.RecordRun(string(report.Trigger), report.OK())

	for _, out := range report.Outcomes {
		if out.OK() {
			continue
		}
		if out.Upload != nil && !out.Upload.OK {
			logger.Error("Upload failed", "destination", out.DestinationID, "kind", out.Upload.ErrorKind, "error", out.Upload.Error)
		}
		if out.Cleanup != nil && !out.Cleanup.OK {
			logger.Error("Cleanup failed", "destination", out.DestinationID, "kind", out.Cleanup.ErrorKind, "error", out.Cleanup.Error)
		}
	}

	logger.Info("Backup run finished",
		"ok", report.OK(),
		"uploaded", report.Uploaded(),
		"deleted", report.Deleted(),
		"failed", report.Failed(),
		"duration", report.Duration(),
	)
}
