// Package artifact defines the backup file handed to the orchestrator and the
// producers that create it.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Artifact is a completed, closed backup file ready to be distributed.
// Every destination opens its own reader, so concurrent uploads never share a stream.
type Artifact struct {
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time

	temporary bool
}

// Producer creates artifacts. Implementations must only return fully written files.
type Producer interface {
	Produce(ctx context.Context) (*Artifact, error)
}

// Open returns a fresh reader positioned at the start of the artifact.
func (a *Artifact) Open() (io.ReadCloser, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", a.Name, err)
	}
	return f, nil
}

// Release removes the underlying file if this process created it.
func (a *Artifact) Release() error {
	if a == nil || !a.temporary {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact %s: %w", a.Path, err)
	}
	return nil
}

// FromFile describes an existing file as an artifact. The file is never removed by Release.
func FromFile(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("artifact %s is a directory", path)
	}
	return &Artifact{
		Name:      filepath.Base(path),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}, nil
}

// FileProducer hands out a pre-made file, e.g. a dump produced by another tool.
type FileProducer struct {
	Path string
}

// Produce implements Producer.
func (p FileProducer) Produce(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return FromFile(p.Path)
}
