package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/retention"
	"github.com/imedwei/clinic-backup/internal/schedule"
	"github.com/imedwei/clinic-backup/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter records calls and delegates behavior per destination id.
type fakeAdapter struct {
	mu       sync.Mutex
	uploads  []string
	cleanups map[string]retention.Policy

	uploadFn  func(ctx context.Context, cfg storage.Config) storage.UploadResult
	cleanupFn func(ctx context.Context, cfg storage.Config) storage.CleanupResult
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{cleanups: map[string]retention.Policy{}}
}

func (f *fakeAdapter) CheckConfig(cfg storage.Config) error {
	if cfg.Credentials["invalid"] != "" {
		return errors.New("missing or invalid field(s): token (required)")
	}
	return nil
}

func (f *fakeAdapter) Validate(ctx context.Context, cfg storage.Config) (string, error) {
	if cfg.Credentials["reject"] != "" {
		return "", storage.ErrAuthenticationFailed
	}
	return cfg.FolderPath(), nil
}

func (f *fakeAdapter) Upload(ctx context.Context, art *artifact.Artifact, cfg storage.Config) storage.UploadResult {
	f.mu.Lock()
	f.uploads = append(f.uploads, cfg.ID)
	f.mu.Unlock()
	if f.uploadFn != nil {
		return f.uploadFn(ctx, cfg)
	}
	return storage.UploadResult{DestinationID: cfg.ID, OK: true, Detail: storage.UploadDetail{RemoteSize: art.Size}}
}

func (f *fakeAdapter) Cleanup(ctx context.Context, cfg storage.Config, policy retention.Policy) storage.CleanupResult {
	f.mu.Lock()
	f.cleanups[cfg.ID] = policy
	f.mu.Unlock()
	if f.cleanupFn != nil {
		return f.cleanupFn(ctx, cfg)
	}
	return storage.CleanupResult{DestinationID: cfg.ID, OK: true, Detail: storage.CleanupDetail{DeletedNames: []string{}}}
}

func (f *fakeAdapter) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *fakeAdapter) cleanedPolicies() map[string]retention.Policy {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]retention.Policy, len(f.cleanups))
	for k, v := range f.cleanups {
		out[k] = v
	}
	return out
}

// fakeRegistry serves one adapter for every kind.
type fakeRegistry struct {
	adapter storage.Adapter
}

func (r fakeRegistry) Adapter(kind storage.Kind) storage.Adapter {
	return r.adapter
}

func (r fakeRegistry) ValidateConfig(cfg storage.Config) error {
	if err := r.adapter.CheckConfig(cfg); err != nil {
		return errors.Join(storage.ErrInvalidConfig, err)
	}
	return nil
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu       sync.Mutex
	dests    []storage.Config
	policy   retention.Policy
	sched    schedule.Config
	saves    int
	saveErr  error
	reloaded int
}

func (s *fakeStore) Destinations() []storage.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.Config(nil), s.dests...)
}

func (s *fakeStore) Retention() retention.Policy {
	return s.policy
}

func (s *fakeStore) Schedule() schedule.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

func (s *fakeStore) SaveSchedule(cfg schedule.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.sched = cfg
	return nil
}

func (s *fakeStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloaded++
	return nil
}

// blockingProducer waits for release before handing out its artifact.
type blockingProducer struct {
	started chan struct{}
	release chan struct{}
	art     *artifact.Artifact
}

func (p *blockingProducer) Produce(ctx context.Context) (*artifact.Artifact, error) {
	close(p.started)
	<-p.release
	return p.art, nil
}

func writeArtifact(t *testing.T, name string, size int) *artifact.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	art, err := artifact.FromFile(path)
	require.NoError(t, err)
	return art
}

func dest(id string) storage.Config {
	return storage.Config{ID: id, Kind: storage.KindLocal, Enabled: true, Folder: "/Backups"}
}

var defaultPolicy = retention.Policy{MaxAgeDays: 30, NamePrefix: "backup_"}
