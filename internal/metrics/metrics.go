// Package metrics provides Prometheus metrics for the backup orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks orchestration runs by trigger and overall status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_runs_total",
		Help: "Total number of backup orchestration runs",
	}, []string{"trigger", "status"})

	// DestinationOperations tracks adapter calls per destination.
	DestinationOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_destination_operations_total",
		Help: "Total number of destination operations",
	}, []string{"operation", "destination", "kind", "status"})

	// DestinationDuration tracks how long each adapter call took.
	DestinationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinic_backup_destination_duration_seconds",
		Help:    "Duration of destination operations in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
	}, []string{"operation", "kind"})

	// ArtifactSize tracks the size of the last produced artifact.
	ArtifactSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clinic_backup_artifact_size_bytes",
		Help: "Size of the last backup artifact in bytes",
	})

	// LastUploadTimestamp tracks the last successful upload per destination.
	LastUploadTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clinic_backup_last_upload_timestamp",
		Help: "Unix timestamp of the last successful upload",
	}, []string{"destination"})

	// BackupsDeleted tracks the number of remote backups pruned by retention.
	BackupsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinic_backup_deleted_total",
		Help: "Total number of old backups deleted",
	}, []string{"destination"})

	// ScheduleFires tracks schedule slots that triggered a run.
	ScheduleFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_backup_schedule_fires_total",
		Help: "Total number of scheduled runs triggered",
	})

	// RunsSkipped tracks scheduled runs dropped because another run was in flight.
	RunsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinic_backup_runs_skipped_total",
		Help: "Total number of runs skipped because a run was already in progress",
	})
)

// RecordRun records an orchestration run with its status.
func RecordRun(trigger string, success bool) {
	RunsTotal.WithLabelValues(trigger, status(success)).Inc()
}

// RecordDestinationOperation records a single adapter call.
func RecordDestinationOperation(operation, destination, kind string, success bool, seconds float64) {
	DestinationOperations.WithLabelValues(operation, destination, kind, status(success)).Inc()
	DestinationDuration.WithLabelValues(operation, kind).Observe(seconds)
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
