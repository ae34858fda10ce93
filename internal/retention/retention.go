// Package retention decides which remote backups are old enough to be pruned.
package retention

import (
	"fmt"
	"strings"
)

// DayMillis is the length of one retention day in milliseconds.
const DayMillis int64 = 86_400_000

// Policy is applied per destination at cleanup time.
type Policy struct {
	// MaxAgeDays is the retention window. Files strictly older are eligible.
	MaxAgeDays int `yaml:"maxAgeDays" json:"maxAgeDays" validate:"gt=0"`

	// NamePrefix restricts deletion to files produced by this system.
	NamePrefix string `yaml:"namePrefix" json:"namePrefix"`
}

// File is a candidate remote entry as seen by an adapter.
type File struct {
	Name        string
	IsDirectory bool
	TimestampMs int64
}

// IsEligibleForDeletion reports whether file may be removed under policy at nowMs.
// Directories are never eligible.
func IsEligibleForDeletion(file File, nowMs int64, policy Policy) bool {
	if file.IsDirectory {
		return false
	}
	if !strings.HasPrefix(file.Name, policy.NamePrefix) {
		return false
	}
	return nowMs-file.TimestampMs > int64(policy.MaxAgeDays)*DayMillis
}

// WithMaxAge returns a copy of p using days as the window.
func (p Policy) WithMaxAge(days int) Policy {
	p.MaxAgeDays = days
	return p
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAgeDays <= 0 {
		return fmt.Errorf("retention maxAgeDays must be positive, got %d", p.MaxAgeDays)
	}
	return nil
}
