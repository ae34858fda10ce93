// Package storage defines the destination adapter contract and its provider
// implementations.
package storage

import (
	"context"
	"time"

	"github.com/imedwei/clinic-backup/internal/artifact"
	"github.com/imedwei/clinic-backup/internal/retention"
)

// DefaultFolder is used when a destination does not configure one.
const DefaultFolder = "/Backups"

// DefaultUploadTimeout bounds a single upload call.
const DefaultUploadTimeout = 10 * time.Minute

// Kind selects the adapter for a destination.
type Kind string

const (
	// KindS3 is the reference session-oriented adapter.
	KindS3    Kind = "s3"
	KindGCS   Kind = "gcs"
	KindMinIO Kind = "minio"
	KindLocal Kind = "local"
)

func (k Kind) String() string {
	return string(k)
}

// Config describes one remote destination. Credentials are opaque outside
// the adapter matching Kind.
type Config struct {
	ID            string            `yaml:"id" json:"id" validate:"required"`
	Kind          Kind              `yaml:"kind" json:"kind" validate:"required,oneof=s3 gcs minio local"`
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	Folder        string            `yaml:"folder,omitempty" json:"folder,omitempty"`
	RetentionDays int               `yaml:"retentionDays,omitempty" json:"retentionDays,omitempty" validate:"gte=0"`
	Credentials   map[string]string `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// FolderPath returns the configured folder or DefaultFolder.
func (c Config) FolderPath() string {
	if c.Folder == "" {
		return DefaultFolder
	}
	return c.Folder
}

// Adapter is the capability set every provider implements. Upload and
// Cleanup always resolve to a result value; they never return an error.
type Adapter interface {
	// CheckConfig validates the destination settings without any I/O.
	CheckConfig(cfg Config) error

	// Validate proves the credentials and folder are usable, creating the
	// folder when it is missing. It returns the resolved folder.
	Validate(ctx context.Context, cfg Config) (string, error)

	// Upload streams the artifact into the destination folder.
	Upload(ctx context.Context, art *artifact.Artifact, cfg Config) UploadResult

	// Cleanup deletes files in the destination folder that policy marks eligible.
	Cleanup(ctx context.Context, cfg Config, policy retention.Policy) CleanupResult
}

// UploadDetail carries provider feedback for a finished upload.
type UploadDetail struct {
	RemoteSize     int64  `json:"remoteSize"`
	Folder         string `json:"folder"`
	FolderFallback bool   `json:"folderFallback,omitempty"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// UploadResult is produced once per destination per run.
type UploadResult struct {
	DestinationID string       `json:"destinationId"`
	OK            bool         `json:"ok"`
	Error         string       `json:"error,omitempty"`
	ErrorKind     string       `json:"errorKind,omitempty"`
	Detail        UploadDetail `json:"detail"`
}

// DeleteFailure records one file that could not be removed.
type DeleteFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// CleanupDetail lists what cleanup did in the destination folder.
type CleanupDetail struct {
	Folder         string          `json:"folder"`
	FolderFallback bool            `json:"folderFallback,omitempty"`
	FallbackReason string          `json:"fallbackReason,omitempty"`
	Scanned        int             `json:"scanned"`
	DeletedNames   []string        `json:"deletedNames"`
	Failures       []DeleteFailure `json:"failures,omitempty"`
}

// CleanupResult is produced once per destination per run.
type CleanupResult struct {
	DestinationID string        `json:"destinationId"`
	OK            bool          `json:"ok"`
	Error         string        `json:"error,omitempty"`
	ErrorKind     string        `json:"errorKind,omitempty"`
	Detail        CleanupDetail `json:"detail"`
}

// TestResult answers a "test connection" request.
type TestResult struct {
	OK             bool   `json:"ok"`
	ResolvedFolder string `json:"resolvedFolder,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty"`
}

func failedUpload(id string, err error, detail UploadDetail) UploadResult {
	return UploadResult{
		DestinationID: id,
		OK:            false,
		Error:         err.Error(),
		ErrorKind:     KindOf(err),
		Detail:        detail,
	}
}

func failedCleanup(id string, err error, detail CleanupDetail) CleanupResult {
	return CleanupResult{
		DestinationID: id,
		OK:            false,
		Error:         err.Error(),
		ErrorKind:     KindOf(err),
		Detail:        detail,
	}
}
