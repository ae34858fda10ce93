package schedule

import (
	"sync/atomic"
	"time"
)

// snapshot is an immutable, normalized schedule with its timezone loaded.
type snapshot struct {
	cfg Config
	loc *time.Location
}

// Cell holds the active schedule. Readers always see a whole snapshot;
// Replace swaps it with a single pointer store.
type Cell struct {
	current atomic.Pointer[snapshot]
}

// NewCell creates a cell holding initial.
func NewCell(initial Config) (*Cell, error) {
	c := &Cell{}
	if _, err := c.Replace(initial); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace validates cfg and makes it the active schedule. It returns the
// normalized form that was stored.
func (c *Cell) Replace(cfg Config) (Config, error) {
	snap, err := newSnapshot(cfg)
	if err != nil {
		return Config{}, err
	}
	c.current.Store(snap)
	return snap.cfg, nil
}

// Load returns a copy of the active schedule.
func (c *Cell) Load() Config {
	cfg := c.load().cfg
	cfg.Days = append(make([]int, 0, len(cfg.Days)), cfg.Days...)
	cfg.Times = append(make([]string, 0, len(cfg.Times)), cfg.Times...)
	return cfg
}

func (c *Cell) load() *snapshot {
	if snap := c.current.Load(); snap != nil {
		return snap
	}
	return &snapshot{cfg: Config{Timezone: DefaultTimezone}, loc: time.UTC}
}

func newSnapshot(cfg Config) (*snapshot, error) {
	norm, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	loc, err := norm.Location()
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: norm, loc: loc}, nil
}
