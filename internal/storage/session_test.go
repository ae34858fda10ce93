package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/retention"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(fs *memFS, timeout time.Duration) (*SessionAdapter, *memDialer) {
	d := &memDialer{fs: fs}
	a := NewSessionAdapter(d, Options{
		UploadTimeout: timeout,
		Logger:        testLogger(),
		Now:           func() time.Time { return testNow },
	})
	return a, d
}

func writeArtifact(t *testing.T, name string, size int) *artifact.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	art, err := artifact.FromFile(path)
	require.NoError(t, err)
	return art
}

func destination(folder string) Config {
	return Config{ID: "ref", Kind: KindS3, Enabled: true, Folder: folder}
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "folder-resolving", stateFolderResolving.String())
	assert.Equal(t, "failed", stateFailed.String())
	assert.Equal(t, "state(42)", sessionState(42).String())
}

func TestValidate_FolderResolutionIsIdempotent(t *testing.T) {
	fs := newMemFS(testNow)
	a, _ := newTestAdapter(fs, time.Second)
	cfg := destination("/Backups/2024")

	first, err := a.Validate(context.Background(), cfg)
	require.NoError(t, err)
	firstID, ok := fs.lookup("/Backups/2024")
	require.True(t, ok)

	second, err := a.Validate(context.Background(), cfg)
	require.NoError(t, err)
	secondID, _ := fs.lookup("/Backups/2024")

	assert.Equal(t, "/Backups/2024", first)
	assert.Equal(t, first, second)
	assert.Equal(t, firstID, secondID)
	assert.Equal(t, 2, fs.mkdirs, "second resolution must not create folders")
	assert.Equal(t, fs.dials, fs.closes, "every session is closed")
}

func TestValidate_MatchesFoldersCaseInsensitively(t *testing.T) {
	fs := newMemFS(testNow)
	fs.mkdirAll("/backups")
	a, _ := newTestAdapter(fs, time.Second)

	folder, err := a.Validate(context.Background(), destination("/BACKUPS"))
	require.NoError(t, err)

	assert.Equal(t, "/BACKUPS", folder)
	assert.Zero(t, fs.mkdirs)
	assert.Equal(t, []string{"backups"}, fs.names("root"))
}

func TestValidate_ConcurrentResolutionCreatesOnce(t *testing.T) {
	fs := newMemFS(testNow)
	a, _ := newTestAdapter(fs, time.Second)
	cfg := destination("/Backups/2024")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Validate(context.Background(), cfg)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, fs.mkdirs)
	assert.Len(t, fs.names("root"), 1)
}

func TestValidate_DuplicateFoldersUseFirst(t *testing.T) {
	fs := newMemFS(testNow)
	first := fs.mkdirAll("/Backups")
	fs.mu.Lock()
	fs.add("root", "BACKUPS", true, 0, time.Time{})
	fs.mu.Unlock()

	a, _ := newTestAdapter(fs, time.Second)
	art := writeArtifact(t, "backup_2024-01-01.zip", 16)

	res := a.Upload(context.Background(), art, destination("/Backups"))
	require.True(t, res.OK, res.Error)
	assert.Equal(t, []string{"backup_2024-01-01.zip"}, fs.names(first))
}

func TestValidate_DefaultFolder(t *testing.T) {
	fs := newMemFS(testNow)
	a, _ := newTestAdapter(fs, time.Second)

	folder, err := a.Validate(context.Background(), destination(""))
	require.NoError(t, err)
	assert.Equal(t, "/Backups", folder)
}

func TestValidate_FolderCreationFailureIsAnError(t *testing.T) {
	fs := newMemFS(testNow)
	fs.mkdirErr = errors.New("quota exceeded")
	a, _ := newTestAdapter(fs, time.Second)

	_, err := a.Validate(context.Background(), destination("/Backups"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFolderResolutionFailed)
}

func TestUpload_Success(t *testing.T) {
	fs := newMemFS(testNow)
	a, _ := newTestAdapter(fs, time.Second)
	art := writeArtifact(t, "backup_2024-01-01.zip", 1024)

	res := a.Upload(context.Background(), art, destination("/Backups"))

	require.True(t, res.OK, res.Error)
	assert.Equal(t, "ref", res.DestinationID)
	assert.Equal(t, int64(1024), res.Detail.RemoteSize)
	assert.Equal(t, "/Backups", res.Detail.Folder)
	assert.False(t, res.Detail.FolderFallback)

	id, ok := fs.lookup("/Backups")
	require.True(t, ok)
	assert.Equal(t, []string{"backup_2024-01-01.zip"}, fs.names(id))
}

func TestUpload_SizeFallsBackToLocalSize(t *testing.T) {
	fs := newMemFS(testNow)
	fs.uploadSize = 0
	a, _ := newTestAdapter(fs, time.Second)
	art := writeArtifact(t, "backup_2024-01-01.zip", 512)

	res := a.Upload(context.Background(), art, destination("/Backups"))

	require.True(t, res.OK, res.Error)
	assert.Equal(t, int64(512), res.Detail.RemoteSize)
}

func TestUpload_FallsBackToRoot(t *testing.T) {
	fs := newMemFS(testNow)
	fs.mkdirErr = errors.New("forbidden")
	a, _ := newTestAdapter(fs, time.Second)
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)

	res := a.Upload(context.Background(), art, destination("/Backups/2024"))

	require.True(t, res.OK, res.Error)
	assert.True(t, res.Detail.FolderFallback)
	assert.Equal(t, "/", res.Detail.Folder)
	assert.Contains(t, res.Detail.FallbackReason, "forbidden")
	assert.Equal(t, []string{"backup_2024-01-01.zip"}, fs.names("root"))
}

func TestUpload_Timeout(t *testing.T) {
	fs := newMemFS(testNow)
	fs.hangUploads = true
	a, _ := newTestAdapter(fs, 50*time.Millisecond)
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)

	start := time.Now()
	res := a.Upload(context.Background(), art, destination("/Backups"))
	elapsed := time.Since(start)

	assert.False(t, res.OK)
	assert.Equal(t, "UploadTimeout", res.ErrorKind)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestUpload_CallerCancellation(t *testing.T) {
	fs := newMemFS(testNow)
	fs.hangUploads = true
	a, _ := newTestAdapter(fs, time.Minute)
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := a.Upload(ctx, art, destination("/Backups"))

	assert.False(t, res.OK)
	assert.Equal(t, "Cancelled", res.ErrorKind)
}

func TestUpload_TimeoutCoversConnect(t *testing.T) {
	fs := newMemFS(testNow)
	a, d := newTestAdapter(fs, 50*time.Millisecond)
	d.hang = true
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	res := a.Upload(ctx, art, destination("/Backups"))
	elapsed := time.Since(start)

	assert.False(t, res.OK)
	assert.Equal(t, "UploadTimeout", res.ErrorKind)
	assert.Less(t, elapsed, time.Second)
}

func TestUpload_TimeoutCoversFolderResolution(t *testing.T) {
	fs := newMemFS(testNow)
	fs.hangLists = true
	a, _ := newTestAdapter(fs, 50*time.Millisecond)
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)

	start := time.Now()
	res := a.Upload(context.Background(), art, destination("/Backups"))
	elapsed := time.Since(start)

	assert.False(t, res.OK)
	assert.Equal(t, "UploadTimeout", res.ErrorKind)
	assert.Less(t, elapsed, time.Second)
	assert.Empty(t, fs.names("root"), "nothing is uploaded after the deadline")
}

func TestUpload_CancelledDuringConnect(t *testing.T) {
	fs := newMemFS(testNow)
	a, d := newTestAdapter(fs, time.Minute)
	d.hang = true
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := a.Upload(ctx, art, destination("/Backups"))

	assert.False(t, res.OK)
	assert.Equal(t, "Cancelled", res.ErrorKind)
}

func TestValidate_CancelledDuringConnect(t *testing.T) {
	fs := newMemFS(testNow)
	a, d := newTestAdapter(fs, time.Minute)
	d.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := a.Validate(ctx, destination("/Backups"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "Cancelled", KindOf(err))
}

func TestUpload_DialFailures(t *testing.T) {
	tests := []struct {
		name     string
		dialErr  error
		wantKind string
	}{
		{"auth", ErrAuthenticationFailed, "AuthenticationFailed"},
		{"network", ErrConnectionFailed, "ConnectionFailed"},
		{"dependency", ErrDependencyUnavailable, "DependencyUnavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newMemFS(testNow)
			a, d := newTestAdapter(fs, time.Second)
			d.dialErr = tt.dialErr
			art := writeArtifact(t, "backup_2024-01-01.zip", 8)

			res := a.Upload(context.Background(), art, destination("/Backups"))

			assert.False(t, res.OK)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestSessionAdapter_NilDialer(t *testing.T) {
	a := NewSessionAdapter(nil, Options{Logger: testLogger()})
	art := writeArtifact(t, "backup_2024-01-01.zip", 8)
	policy := retention.Policy{MaxAgeDays: 30, NamePrefix: "backup_"}

	_, err := a.Validate(context.Background(), destination("/Backups"))
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	up := a.Upload(context.Background(), art, destination("/Backups"))
	assert.Equal(t, "DependencyUnavailable", up.ErrorKind)

	cl := a.Cleanup(context.Background(), destination("/Backups"), policy)
	assert.Equal(t, "DependencyUnavailable", cl.ErrorKind)
	assert.NoError(t, a.CheckConfig(destination("/Backups")))
}

func TestSessionAdapter_CheckConfig(t *testing.T) {
	fs := newMemFS(testNow)
	a, d := newTestAdapter(fs, time.Second)
	d.checkFn = func(Config) error { return errors.New("bucket (required)") }

	err := a.CheckConfig(destination("/Backups"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "ref")
}

func TestCleanup_DeletesOnlyEligibleFiles(t *testing.T) {
	fs := newMemFS(testNow)
	folder := fs.mkdirAll("/Backups")
	fs.putFile(folder, "backup_2023-01-01.zip", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	fs.putFile(folder, "backup_2023-12-20.zip", time.Date(2023, 12, 20, 0, 0, 0, 0, time.UTC))
	fs.putFile(folder, "notes.txt", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	fs.putFile(folder, "backup_unknown.zip", time.Time{})
	fs.mu.Lock()
	fs.add(folder, "backup_archive", true, 0, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	fs.mu.Unlock()

	a, _ := newTestAdapter(fs, time.Second)
	res := a.Cleanup(context.Background(), destination("/Backups"), retention.Policy{MaxAgeDays: 30, NamePrefix: "backup_"})

	require.True(t, res.OK, res.Error)
	assert.Equal(t, []string{"backup_2023-01-01.zip"}, res.Detail.DeletedNames)
	assert.Equal(t, 5, res.Detail.Scanned)
	assert.ElementsMatch(t,
		[]string{"backup_2023-12-20.zip", "notes.txt", "backup_unknown.zip", "backup_archive"},
		fs.names(folder),
	)
}

func TestCleanup_DeleteFailureContinues(t *testing.T) {
	fs := newMemFS(testNow)
	folder := fs.mkdirAll("/Backups")
	old := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	fs.putFile(folder, "backup_a.zip", old)
	fs.putFile(folder, "backup_b.zip", old)
	fs.putFile(folder, "backup_c.zip", old)
	fs.failDeletes["backup_a.zip"] = true

	a, _ := newTestAdapter(fs, time.Second)
	res := a.Cleanup(context.Background(), destination("/Backups"), retention.Policy{MaxAgeDays: 30, NamePrefix: "backup_"})

	assert.False(t, res.OK)
	assert.Equal(t, "DeleteError", res.ErrorKind)
	assert.Equal(t, []string{"backup_b.zip", "backup_c.zip"}, res.Detail.DeletedNames)
	require.Len(t, res.Detail.Failures, 1)
	assert.Equal(t, "backup_a.zip", res.Detail.Failures[0].Name)
	assert.Equal(t, []string{"backup_a.zip"}, fs.names(folder))
}

func TestCleanup_EmptyFolderReportsNoDeletions(t *testing.T) {
	fs := newMemFS(testNow)
	a, _ := newTestAdapter(fs, time.Second)

	res := a.Cleanup(context.Background(), destination("/Backups"), retention.Policy{MaxAgeDays: 30, NamePrefix: "backup_"})

	require.True(t, res.OK, res.Error)
	assert.NotNil(t, res.Detail.DeletedNames)
	assert.Empty(t, res.Detail.DeletedNames)
}

func TestUploadThenCleanup_EndToEnd(t *testing.T) {
	fs := newMemFS(testNow)
	folder := fs.mkdirAll("/Backups")
	fs.putFile(folder, "backup_2023-01-01.zip", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

	a, _ := newTestAdapter(fs, time.Second)
	cfg := destination("/Backups")
	art := writeArtifact(t, "backup_2024-01-01.zip", 1024)
	policy := retention.Policy{MaxAgeDays: 30, NamePrefix: "backup_"}

	up := a.Upload(context.Background(), art, cfg)
	require.True(t, up.OK, up.Error)

	cl := a.Cleanup(context.Background(), cfg, policy)
	require.True(t, cl.OK, cl.Error)

	assert.Contains(t, cl.Detail.DeletedNames, "backup_2023-01-01.zip")
	assert.NotContains(t, cl.Detail.DeletedNames, "backup_2024-01-01.zip")
	assert.Equal(t, []string{"backup_2024-01-01.zip"}, fs.names(folder))
}
