// Package schedule decides when scheduled backup runs fire.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultTimezone is used when a schedule does not name one.
const DefaultTimezone = "UTC"

// Config is the process-wide schedule. Days use time.Weekday numbering
// (Sunday = 0) and Times are "HH:mm" in Timezone.
type Config struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Days     []int    `yaml:"days" json:"days" validate:"dive,gte=0,lte=6"`
	Times    []string `yaml:"times" json:"times"`
	Timezone string   `yaml:"timezone" json:"timezone" validate:"omitempty,timezone"`
}

var (
	// ErrInvalidSchedule wraps every schedule validation failure.
	ErrInvalidSchedule = errors.New("invalid schedule")

	clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	validate     = validator.New()
)

// Normalize validates c and returns its canonical form: times padded to
// HH:mm, days and times deduplicated and sorted, timezone defaulted.
func (c Config) Normalize() (Config, error) {
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	out := Config{Enabled: c.Enabled, Timezone: c.Timezone}
	if out.Timezone == "" {
		out.Timezone = DefaultTimezone
	}

	out.Days = append(make([]int, 0, len(c.Days)), c.Days...)
	slices.Sort(out.Days)
	out.Days = slices.Compact(out.Days)

	out.Times = make([]string, 0, len(c.Times))
	for _, raw := range c.Times {
		t, err := ParseClock(raw)
		if err != nil {
			return Config{}, err
		}
		out.Times = append(out.Times, t)
	}
	slices.Sort(out.Times)
	out.Times = slices.Compact(out.Times)

	if out.Enabled && (len(out.Days) == 0 || len(out.Times) == 0) {
		return Config{}, fmt.Errorf("%w: an enabled schedule needs at least one day and one time", ErrInvalidSchedule)
	}
	return out, nil
}

// Location loads the schedule timezone.
func (c Config) Location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidSchedule, tz)
	}
	return loc, nil
}

// ParseClock accepts "H:mm" or "HH:mm" and returns "HH:mm".
func ParseClock(raw string) (string, error) {
	m := clockPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: time %q is not HH:mm", ErrInvalidSchedule, raw)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return "", fmt.Errorf("%w: time %q is out of range", ErrInvalidSchedule, raw)
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}
