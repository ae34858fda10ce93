package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// localCredentials is the credential shape of a local destination.
type localCredentials struct {
	BasePath string `yaml:"basePath" validate:"required"`
}

// LocalDialer treats a directory on a mounted volume as the provider root.
type LocalDialer struct{}

// NewLocalAdapter creates the adapter for local destinations.
func NewLocalAdapter(opts Options) *SessionAdapter {
	return NewSessionAdapter(&LocalDialer{}, opts)
}

// CheckConfig implements Dialer.
func (d *LocalDialer) CheckConfig(cfg Config) error {
	var creds localCredentials
	if err := decodeCredentials(cfg, &creds); err != nil {
		return err
	}
	if !filepath.IsAbs(creds.BasePath) {
		return fmt.Errorf("basePath must be absolute: %s", creds.BasePath)
	}
	return nil
}

// Dial implements Dialer.
func (d *LocalDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	var creds localCredentials
	if err := decodeCredentials(cfg, &creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	info, err := os.Stat(creds.BasePath)
	switch {
	case errors.Is(err, os.ErrPermission):
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConnectionFailed, creds.BasePath)
	}
	return &localSession{base: filepath.Clean(creds.BasePath)}, nil
}

type localSession struct {
	base string
}

func (l *localSession) Root() Node {
	return Node{Handle: l.base, IsDir: true}
}

func (l *localSession) Children(ctx context.Context, parent Node) ([]Node, error) {
	entries, err := os.ReadDir(parent.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed while listing
			continue
		}
		nodes = append(nodes, Node{
			Handle:  filepath.Join(parent.Handle, e.Name()),
			Name:    e.Name(),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return nodes, nil
}

func (l *localSession) Mkdir(ctx context.Context, parent Node, name string) (Node, error) {
	dir := filepath.Join(parent.Handle, name)
	if err := os.Mkdir(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return Node{}, fmt.Errorf("failed to create directory: %w", err)
	}
	return Node{Handle: dir, Name: name, IsDir: true}, nil
}

// Upload writes to a hidden temp file and renames it so a partial transfer never
// shows up under the artifact name.
func (l *localSession) Upload(ctx context.Context, parent Node, name string, size int64, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(parent.Handle, "."+name+".*.partial")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	written, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize backup: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, filepath.Join(parent.Handle, name)); err != nil {
		return 0, fmt.Errorf("failed to move backup into place: %w", err)
	}
	return written, nil
}

func (l *localSession) Delete(ctx context.Context, node Node) error {
	return os.Remove(node.Handle)
}

func (l *localSession) Close() error {
	return nil
}
