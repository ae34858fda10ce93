package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsCredentials is the credential shape of a gcs destination.
type gcsCredentials struct {
	Bucket             string `yaml:"bucket" validate:"required"`
	ProjectID          string `yaml:"projectId"`
	ServiceAccountJSON string `yaml:"serviceAccountJson" validate:"required"`
}

// GCSDialer opens sessions against a Google Cloud Storage bucket.
type GCSDialer struct{}

// NewGCSAdapter creates the adapter for gcs destinations.
func NewGCSAdapter(opts Options) *SessionAdapter {
	return NewSessionAdapter(&GCSDialer{}, opts)
}

// CheckConfig implements Dialer.
func (d *GCSDialer) CheckConfig(cfg Config) error {
	var creds gcsCredentials
	if err := decodeCredentials(cfg, &creds); err != nil {
		return err
	}
	return ValidateServiceAccountJSON(creds.ServiceAccountJSON)
}

// Dial implements Dialer.
func (d *GCSDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	var creds gcsCredentials
	if err := decodeCredentials(cfg, &creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(creds.ServiceAccountJSON)))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCS client: %w", ErrAuthenticationFailed, err)
	}

	bucket := client.Bucket(creds.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, classifyGCSError(err)
	}

	return &gcsSession{client: client, bucket: bucket}, nil
}

func classifyGCSError(err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

type gcsSession struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

func (g *gcsSession) Root() Node {
	return Node{Handle: "", IsDir: true}
}

func (g *gcsSession) Children(ctx context.Context, parent Node) ([]Node, error) {
	var nodes []Node
	it := g.bucket.Objects(ctx, &storage.Query{
		Prefix:    parent.Handle,
		Delimiter: "/",
	})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}

		if attrs.Prefix != "" {
			nodes = append(nodes, Node{
				Handle: attrs.Prefix,
				Name:   childName(parent.Handle, attrs.Prefix),
				IsDir:  true,
			})
			continue
		}
		if attrs.Name == parent.Handle {
			continue
		}
		nodes = append(nodes, Node{
			Handle:  attrs.Name,
			Name:    childName(parent.Handle, attrs.Name),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return nodes, nil
}

func (g *gcsSession) Mkdir(ctx context.Context, parent Node, name string) (Node, error) {
	key := parent.Handle + name + "/"
	w := g.bucket.Object(key).NewWriter(ctx)
	if err := w.Close(); err != nil {
		return Node{}, fmt.Errorf("failed to create folder marker: %w", err)
	}
	return Node{Handle: key, Name: name, IsDir: true}, nil
}

func (g *gcsSession) Upload(ctx context.Context, parent Node, name string, size int64, body io.Reader) (int64, error) {
	w := g.bucket.Object(parent.Handle + name).NewWriter(ctx)
	w.Metadata = map[string]string{"backup-tool": "clinic-backup"}

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("failed to upload to GCS: %w", err)
	}

	// Close writer to complete upload
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	if attrs := w.Attrs(); attrs != nil {
		return attrs.Size, nil
	}
	return 0, nil
}

func (g *gcsSession) Delete(ctx context.Context, node Node) error {
	if err := g.bucket.Object(node.Handle).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

func (g *gcsSession) Close() error {
	return g.client.Close()
}

// ValidateServiceAccountJSON validates the service account JSON string.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %s", sa.Type)
	}

	return nil
}
