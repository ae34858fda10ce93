package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/imedwei/clinic-backup/internal/backup"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

const maxBodySize = 1 << 20

var timeNow = time.Now

// Service is the backup API served over HTTP.
type Service interface {
	RunBackup(ctx context.Context, req backup.RunRequest) (*backup.Report, error)
	Cleanup(ctx context.Context, req backup.RunRequest) (*backup.Report, error)
	TestDestination(ctx context.Context, cfg storage.Config) storage.TestResult
	Schedule() schedule.Config
	UpdateSchedule(ctx context.Context, cfg schedule.Config) (schedule.Config, error)
	Reload(ctx context.Context) error
}

// Handler serves the /api routes.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With("component", "api")}
}

// Routes mounts the API.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/backups", h.RunBackup)
	r.Post("/backups/cleanup", h.Cleanup)
	r.Post("/destinations/test", h.TestDestination)
	r.Get("/schedule", h.GetSchedule)
	r.Put("/schedule", h.UpdateSchedule)
	r.Post("/config/reload", h.Reload)
	return r
}

// RunBackup handles POST /api/backups. An empty body runs every enabled destination.
func (h *Handler) RunBackup(w http.ResponseWriter, r *http.Request) {
	var req backup.RunRequest
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err)
		return
	}
	req.Trigger = backup.TriggerManual

	report, err := h.svc.RunBackup(r.Context(), req)
	if err != nil {
		h.runError(w, err)
		return
	}
	ok(w, runMessage(report), report)
}

// Cleanup handles POST /api/backups/cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req backup.RunRequest
	if err := decode(r, &req, true); err != nil {
		badRequest(w, err)
		return
	}
	req.Trigger = backup.TriggerCleanup

	report, err := h.svc.Cleanup(r.Context(), req)
	if err != nil {
		h.runError(w, err)
		return
	}
	ok(w, runMessage(report), report)
}

// TestDestination handles POST /api/destinations/test. The destination in the
// body does not need to be saved.
func (h *Handler) TestDestination(w http.ResponseWriter, r *http.Request) {
	var cfg storage.Config
	if err := decode(r, &cfg, false); err != nil {
		badRequest(w, err)
		return
	}

	res := h.svc.TestDestination(r.Context(), cfg)
	msg := "connection ok"
	if !res.OK {
		msg = "connection failed"
	}
	ok(w, msg, res)
}

// GetSchedule handles GET /api/schedule.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	cfg := h.svc.Schedule()
	data := struct {
		schedule.Config
		NextRun *time.Time `json:"nextRun,omitempty"`
	}{Config: cfg}
	if next, found := schedule.NextFire(cfg, timeNow()); found {
		data.NextRun = &next
	}
	ok(w, "schedule", data)
}

// UpdateSchedule handles PUT /api/schedule.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var cfg schedule.Config
	if err := decode(r, &cfg, false); err != nil {
		badRequest(w, err)
		return
	}

	stored, err := h.svc.UpdateSchedule(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidSchedule) {
			badRequest(w, err)
			return
		}
		h.logger.Error("Failed to update schedule", "error", err)
		serverError(w, err)
		return
	}
	ok(w, "schedule updated", stored)
}

// Reload handles POST /api/config/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reload(r.Context()); err != nil {
		h.logger.Error("Failed to reload configuration", "error", err)
		serverError(w, err)
		return
	}
	ok(w, "configuration reloaded", nil)
}

func (h *Handler) runError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backup.ErrRunInProgress):
		conflict(w, err)
	case errors.Is(err, backup.ErrUnknownDestination):
		notFound(w, err)
	case errors.Is(err, backup.ErrInvalidRequest),
		errors.Is(err, backup.ErrNoDestinations),
		errors.Is(err, storage.ErrInvalidConfig):
		badRequest(w, err)
	default:
		h.logger.Error("Backup request failed", "error", err)
		serverError(w, err)
	}
}

func runMessage(report *backup.Report) string {
	if report.OK() {
		return "run completed"
	}
	return fmt.Sprintf("run completed with %d failed destination(s)", len(report.Failed()))
}

// decode reads a JSON body. Unknown fields are rejected.
func decode(r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
