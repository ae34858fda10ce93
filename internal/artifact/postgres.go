package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// PostgresProducer dumps a PostgreSQL database with pg_dump into a gzip
// compressed tar archive in WorkDir.
type PostgresProducer struct {
	connectionURL string
	pgDumpOptions []string
	pgDumpBin     string
	workDir       string
	prefix        string
	logger        *slog.Logger
	now           func() time.Time
}

// PostgresConfig holds the settings for PostgresProducer.
type PostgresConfig struct {
	ConnectionURL string
	PGDumpBin     string
	PGDumpOptions string
	WorkDir       string
	Prefix        string
}

// NewPostgresProducer creates a new PostgreSQL artifact producer.
func NewPostgresProducer(cfg PostgresConfig, logger *slog.Logger) *PostgresProducer {
	var options []string
	if cfg.PGDumpOptions != "" {
		options = strings.Fields(cfg.PGDumpOptions)
	}
	bin := cfg.PGDumpBin
	if bin == "" {
		bin = "pg_dump"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	return &PostgresProducer{
		connectionURL: cfg.ConnectionURL,
		pgDumpOptions: options,
		pgDumpBin:     bin,
		workDir:       workDir,
		prefix:        cfg.Prefix,
		logger:        logger.With("component", "postgres-producer"),
		now:           time.Now,
	}
}

// Produce implements Producer. The returned artifact is removed by Release.
func (p *PostgresProducer) Produce(ctx context.Context) (*Artifact, error) {
	createdAt := p.now()
	name := GenerateName(p.prefix, createdAt, ".tar.gz")
	path := filepath.Join(p.workDir, name)

	args := []string{
		"--format=tar",
		"--no-password",
	}
	args = append(args, p.pgDumpOptions...)
	args = append(args, p.connectionURL)

	cmd := exec.CommandContext(ctx, p.pgDumpBin, args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD=")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}
	art := &Artifact{Name: name, Path: path, CreatedAt: createdAt, temporary: true}

	p.logger.Info("Starting database dump", "artifact", name)
	if err := cmd.Start(); err != nil {
		_ = f.Close()
		_ = art.Release()
		return nil, fmt.Errorf("failed to start pg_dump: %w", err)
	}

	gw := gzip.NewWriter(f)
	_, copyErr := io.Copy(gw, stdout)
	closeErr := gw.Close()
	waitErr := cmd.Wait()
	syncErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to compress backup: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to close gzip writer: %w", closeErr)
	case waitErr != nil:
		err = fmt.Errorf("pg_dump failed: %w, stderr: %s", waitErr, stderr.String())
	case syncErr != nil:
		err = fmt.Errorf("failed to close artifact file: %w", syncErr)
	}
	if err != nil {
		_ = art.Release()
		return nil, err
	}

	if err := Verify(path); err != nil {
		_ = art.Release()
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		_ = art.Release()
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	art.Size = info.Size()

	p.logger.Info("Database dump completed", "artifact", name, "size", FormatBytes(art.Size))
	return art, nil
}

// Verify checks that the file at path is a non-empty gzip compressed tar archive.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("invalid gzip format: %w", err)
	}
	defer func() {
		_ = gr.Close()
	}()

	tr := tar.NewReader(gr)
	if _, err := tr.Next(); err != nil {
		if err == io.EOF {
			return fmt.Errorf("backup archive is empty")
		}
		return fmt.Errorf("invalid tar format: %w", err)
	}
	return nil
}
