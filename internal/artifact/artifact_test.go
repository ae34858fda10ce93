package artifact

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestGenerateName(t *testing.T) {
	timestamp := time.Date(2025, 1, 21, 10, 30, 45, 123000000, time.UTC)

	tests := []struct {
		name   string
		prefix string
		ext    string
		want   string
	}{
		{
			name:   "default prefix",
			prefix: "",
			ext:    ".tar.gz",
			want:   "backup_2025-01-21T10-30-45Z.tar.gz",
		},
		{
			name:   "custom prefix",
			prefix: "clinic-",
			ext:    ".tar.gz",
			want:   "clinic-2025-01-21T10-30-45Z.tar.gz",
		},
		{
			name:   "extension without dot",
			prefix: "backup_",
			ext:    "zip",
			want:   "backup_2025-01-21T10-30-45Z.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateName(tt.prefix, timestamp, tt.ext); got != tt.want {
				t.Errorf("GenerateName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateName_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	timestamp := time.Date(2025, 1, 21, 12, 0, 0, 0, loc)

	if got := GenerateName("backup_", timestamp, ""); got != "backup_2025-01-21T10-00-00Z" {
		t.Errorf("GenerateName() = %v", got)
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup_2024-01-01.zip")
	if err := os.WriteFile(path, make([]byte, 1024), 0o600); err != nil {
		t.Fatal(err)
	}

	art, err := FromFile(path)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if art.Name != "backup_2024-01-01.zip" {
		t.Errorf("Name = %v", art.Name)
	}
	if art.Size != 1024 {
		t.Errorf("Size = %v, want 1024", art.Size)
	}

	r, err := art.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(r)
	_ = r.Close()
	if len(data) != 1024 {
		t.Errorf("read %d bytes, want 1024", len(data))
	}

	// files that were not produced by us must survive Release
	if err := art.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Release() removed a caller owned file: %v", err)
	}
}

func TestFromFile_Directory(t *testing.T) {
	if _, err := FromFile(t.TempDir()); err == nil {
		t.Error("FromFile() expected error for directory")
	}
}

func TestFileProducer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (FileProducer{Path: "unused"}).Produce(ctx); err == nil {
		t.Error("Produce() expected error for cancelled context")
	}
}

func TestRelease_Temporary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmp.tar.gz")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	art := &Artifact{Name: "tmp.tar.gz", Path: path, temporary: true}

	if err := art.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected temporary artifact to be removed")
	}
	// second release is a no-op
	if err := art.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.tar.gz")
	writeArchive(t, valid, true)
	if err := Verify(valid); err != nil {
		t.Errorf("Verify() valid archive error = %v", err)
	}

	empty := filepath.Join(dir, "empty.tar.gz")
	writeArchive(t, empty, false)
	if err := Verify(empty); err == nil {
		t.Error("Verify() expected error for empty archive")
	}

	garbage := filepath.Join(dir, "garbage.tar.gz")
	if err := os.WriteFile(garbage, []byte("not gzip"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Verify(garbage); err == nil {
		t.Error("Verify() expected error for non-gzip file")
	}
}

func writeArchive(t *testing.T, path string, withEntry bool) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	if withEntry {
		body := []byte("toc")
		if err := tw.WriteHeader(&tar.Header{Name: "toc.dat", Mode: 0o600, Size: int64(len(body))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}
