package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/retention"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

// DefaultRetentionDays applies when the settings file has no retention window.
const DefaultRetentionDays = 30

// Settings is the persisted document: schedule, retention and destinations.
type Settings struct {
	Schedule     schedule.Config  `yaml:"schedule"`
	Retention    retention.Policy `yaml:"retention"`
	Destinations []storage.Config `yaml:"destinations"`
}

// DestinationValidator checks one destination before it is accepted.
type DestinationValidator func(cfg storage.Config) error

// Store is the file-backed configuration store. The file is read on Load
// and Reload only; SaveSchedule writes it back atomically.
type Store struct {
	path     string
	prefix   string
	validate DestinationValidator
	logger   *slog.Logger

	mu      sync.RWMutex
	current Settings
}

// NewStore creates a store for path. Nothing is read until Load.
func NewStore(path, namePrefix string, validate DestinationValidator, logger *slog.Logger) *Store {
	if namePrefix == "" {
		namePrefix = artifact.DefaultPrefix
	}
	return &Store{
		path:     path,
		prefix:   namePrefix,
		validate: validate,
		logger:   logger.With("component", "config-store"),
		current:  Settings{Retention: retention.Policy{MaxAgeDays: DefaultRetentionDays, NamePrefix: namePrefix}},
	}
}

// Load reads the settings file. A missing file yields an empty configuration
// with the schedule disabled.
func (s *Store) Load() error {
	return s.Reload()
}

// Reload re-reads the settings file. On error the previous settings stay active.
func (s *Store) Reload() error {
	settings, err := s.read()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = settings
	s.mu.Unlock()

	s.logger.Info("Configuration loaded",
		"path", s.path,
		"destinations", len(settings.Destinations),
		"schedule_enabled", settings.Schedule.Enabled,
		"retention_days", settings.Retention.MaxAgeDays,
	)
	return nil
}

func (s *Store) read() (Settings, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Configuration file not found, starting with no destinations", "path", s.path)
		raw = nil
	} else if err != nil {
		return Settings{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var settings Settings
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&settings); err != nil {
			return Settings{}, fmt.Errorf("failed to parse %s: %w", s.path, err)
		}
	}

	if err := s.normalize(&settings); err != nil {
		return Settings{}, fmt.Errorf("invalid configuration in %s: %w", s.path, err)
	}
	return settings, nil
}

func (s *Store) normalize(settings *Settings) error {
	if settings.Retention.MaxAgeDays == 0 {
		settings.Retention.MaxAgeDays = DefaultRetentionDays
	}
	if settings.Retention.NamePrefix == "" {
		settings.Retention.NamePrefix = s.prefix
	}
	if err := settings.Retention.Validate(); err != nil {
		return err
	}

	sched, err := settings.Schedule.Normalize()
	if err != nil {
		return err
	}
	settings.Schedule = sched

	if dups := lo.FindDuplicatesBy(settings.Destinations, func(d storage.Config) string { return d.ID }); len(dups) > 0 {
		return fmt.Errorf("duplicate destination id %q", dups[0].ID)
	}
	if s.validate != nil {
		for _, d := range settings.Destinations {
			if err := s.validate(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Destinations returns a copy of the configured destinations.
func (s *Store) Destinations() []storage.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Config(nil), s.current.Destinations...)
}

// Retention returns the global retention policy.
func (s *Store) Retention() retention.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Retention
}

// Schedule returns the persisted schedule.
func (s *Store) Schedule() schedule.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Schedule
}

// SaveSchedule writes cfg to the settings file and keeps everything else.
func (s *Store) SaveSchedule(cfg schedule.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	next.Schedule = cfg
	if err := s.write(next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// write replaces the settings file via a temp file and rename.
func (s *Store) write(settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close configuration: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace configuration: %w", err)
	}
	return nil
}
