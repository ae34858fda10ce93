package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/imedwei/clinic-backup/internal/metrics"
)

// DefaultTickInterval keeps ticks well under the one-minute slot width.
const DefaultTickInterval = 30 * time.Second

// RunFunc starts one scheduled run. It is called on its own goroutine.
type RunFunc func(ctx context.Context, firedAt time.Time)

// Engine evaluates the schedule held in a Cell on a periodic tick and fires
// RunFunc at most once per (date, time) slot.
type Engine struct {
	cell     *Cell
	run      RunFunc
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// fired holds the clocks already dispatched on firedDate. A repeated
	// wall-clock hour (DST fall-back) maps to the same entry.
	mu        sync.Mutex
	firedDate string
	fired     map[string]struct{}

	runs      sync.WaitGroup
	scheduler gocron.Scheduler
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval sets how often the schedule is evaluated.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces time.Now for ticks started by Start.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine. Nothing runs until Start.
func NewEngine(cell *Cell, run RunFunc, opts ...Option) *Engine {
	e := &Engine{
		cell:     cell,
		run:      run,
		interval: DefaultTickInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "schedule")
	return e
}

// Tick evaluates the schedule at now and dispatches a run when a new slot
// matches. It reports whether a run was dispatched.
func (e *Engine) Tick(ctx context.Context, now time.Time) bool {
	snap := e.cell.load()
	if !snap.cfg.Enabled {
		return false
	}

	local := now.In(snap.loc)
	if !slices.Contains(snap.cfg.Days, int(local.Weekday())) {
		return false
	}
	clock := local.Format("15:04")
	if !slices.Contains(snap.cfg.Times, clock) {
		return false
	}

	date := local.Format("2006-01-02")
	slot := date + " " + clock
	e.mu.Lock()
	if date != e.firedDate {
		e.firedDate = date
		e.fired = make(map[string]struct{})
	}
	if _, done := e.fired[clock]; done {
		e.mu.Unlock()
		return false
	}
	e.fired[clock] = struct{}{}
	e.mu.Unlock()

	metrics.ScheduleFires.Inc()
	e.logger.Info("Schedule slot reached, starting backup run",
		"slot", slot,
		"timezone", snap.cfg.Timezone,
	)

	e.runs.Add(1)
	go func() {
		defer e.runs.Done()
		e.run(ctx, now)
	}()
	return true
}

// Start begins ticking until ctx is cancelled or Shutdown is called. At
// most one tick is processed at a time.
func (e *Engine) Start(ctx context.Context) error {
	if e.scheduler != nil {
		return errors.New("schedule engine already started")
	}

	s, err := gocron.NewScheduler(gocron.WithLogger(e.logger))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(e.interval),
		gocron.NewTask(func() {
			e.Tick(ctx, e.now())
		}),
		gocron.WithName("schedule-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to register schedule tick: %w", err)
	}

	e.scheduler = s
	s.Start()

	if next, ok := e.Next(e.now()); ok {
		e.logger.Info("Schedule engine started", "tick_interval", e.interval, "next_run", next)
	} else {
		e.logger.Info("Schedule engine started, no run scheduled", "tick_interval", e.interval)
	}
	return nil
}

// Shutdown stops ticking and waits for dispatched runs to return.
func (e *Engine) Shutdown() error {
	var err error
	if e.scheduler != nil {
		err = e.scheduler.Shutdown()
	}
	e.Wait()
	return err
}

// Wait blocks until every dispatched run has returned.
func (e *Engine) Wait() {
	e.runs.Wait()
}

// Next returns the next time the active schedule fires after now.
func (e *Engine) Next(now time.Time) (time.Time, bool) {
	return NextFire(e.cell.Load(), now)
}

// NextFire returns the first fire time of cfg strictly after now.
func NextFire(cfg Config, now time.Time) (time.Time, bool) {
	if !cfg.Enabled || len(cfg.Days) == 0 || len(cfg.Times) == 0 {
		return time.Time{}, false
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	days := make([]string, len(cfg.Days))
	for i, d := range cfg.Days {
		days[i] = strconv.Itoa(d)
	}

	var next time.Time
	for _, t := range cfg.Times {
		clock, err := ParseClock(t)
		if err != nil {
			continue
		}
		expr := fmt.Sprintf("CRON_TZ=%s %s %s * * %s", tz, clock[3:], clock[:2], strings.Join(days, ","))
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			continue
		}
		at := sched.Next(now)
		if at.IsZero() {
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next, !next.IsZero()
}
