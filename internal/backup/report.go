package backup

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/imedwei/clinic-backup/internal/storage"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerCleanup   Trigger = "cleanup"
)

// ArtifactInfo describes the artifact a run distributed.
type ArtifactInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Outcome is the result of one run for one destination. Cleanup is nil when
// the cleanup phase was not attempted for it.
type Outcome struct {
	DestinationID string                 `json:"destinationId"`
	Kind          storage.Kind           `json:"kind"`
	Upload        *storage.UploadResult  `json:"upload,omitempty"`
	Cleanup       *storage.CleanupResult `json:"cleanup,omitempty"`
}

// OK reports whether every attempted phase succeeded.
func (o Outcome) OK() bool {
	if o.Upload != nil && !o.Upload.OK {
		return false
	}
	if o.Cleanup != nil && !o.Cleanup.OK {
		return false
	}
	return true
}

// Report aggregates one run. It holds one outcome per requested
// destination, in request order.
type Report struct {
	RunID      uuid.UUID     `json:"runId"`
	Trigger    Trigger       `json:"trigger"`
	Artifact   *ArtifactInfo `json:"artifact,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Outcomes   []Outcome     `json:"outcomes"`
}

func newReport(trigger Trigger, dests []storage.Config, now time.Time) *Report {
	return &Report{
		RunID:     uuid.New(),
		Trigger:   trigger,
		StartedAt: now,
		Outcomes: lo.Map(dests, func(d storage.Config, _ int) Outcome {
			return Outcome{DestinationID: d.ID, Kind: d.Kind}
		}),
	}
}

// OK reports whether every destination succeeded.
func (r *Report) OK() bool {
	return lo.EveryBy(r.Outcomes, Outcome.OK)
}

// Failed returns the ids of destinations with a failed phase.
func (r *Report) Failed() []string {
	return lo.FilterMap(r.Outcomes, func(o Outcome, _ int) (string, bool) {
		return o.DestinationID, !o.OK()
	})
}

// Uploaded counts successful uploads.
func (r *Report) Uploaded() int {
	return lo.CountBy(r.Outcomes, func(o Outcome) bool {
		return o.Upload != nil && o.Upload.OK
	})
}

// Deleted counts remote files removed by cleanup across destinations.
func (r *Report) Deleted() int {
	return lo.SumBy(r.Outcomes, func(o Outcome) int {
		if o.Cleanup == nil {
			return 0
		}
		return len(o.Cleanup.Detail.DeletedNames)
	})
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
