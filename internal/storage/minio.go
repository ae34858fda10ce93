package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioCredentials is the credential shape of a minio destination.
type minioCredentials struct {
	Endpoint    string `yaml:"endpoint" validate:"required"`
	AccessKeyID string `yaml:"accessKeyId" validate:"required"`
	SecretKey   string `yaml:"secretKey" validate:"required"`
	Bucket      string `yaml:"bucket" validate:"required"`
	Region      string `yaml:"region"`
	UseSSL      string `yaml:"useSSL" validate:"omitempty,oneof=true false"`
}

// MinIODialer opens sessions against a MinIO server. The bucket is created
// on first use.
type MinIODialer struct{}

// NewMinIOAdapter creates the adapter for minio destinations.
func NewMinIOAdapter(opts Options) *SessionAdapter {
	return NewSessionAdapter(&MinIODialer{}, opts)
}

// CheckConfig implements Dialer.
func (d *MinIODialer) CheckConfig(cfg Config) error {
	var creds minioCredentials
	return decodeCredentials(cfg, &creds)
}

// Dial implements Dialer.
func (d *MinIODialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	var creds minioCredentials
	if err := decodeCredentials(cfg, &creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	client, err := minio.New(creds.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.SecretKey, ""),
		Secure: creds.UseSSL == "true",
		Region: creds.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s := &minioSession{client: client, bucket: creds.Bucket}
	if err := s.makeBucket(ctx, creds.Region); err != nil {
		return nil, classifyMinIOError(err)
	}
	return s, nil
}

func classifyMinIOError(err error) error {
	switch minio.ToErrorResponse(err).StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

type minioSession struct {
	client *minio.Client
	bucket string
}

func (s *minioSession) makeBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
		Region: region,
	})
}

func (s *minioSession) Root() Node {
	return Node{Handle: "", IsDir: true}
}

func (s *minioSession) Children(ctx context.Context, parent Node) ([]Node, error) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var nodes []Node
	for obj := range s.client.ListObjects(lctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    parent.Handle,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list MinIO objects: %w", obj.Err)
		}
		if obj.Key == parent.Handle {
			continue
		}
		nodes = append(nodes, Node{
			Handle:  obj.Key,
			Name:    childName(parent.Handle, obj.Key),
			IsDir:   strings.HasSuffix(obj.Key, "/"),
			Size:    obj.Size,
			ModTime: obj.LastModified,
		})
	}
	return nodes, nil
}

func (s *minioSession) Mkdir(ctx context.Context, parent Node, name string) (Node, error) {
	key := parent.Handle + name + "/"
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{}); err != nil {
		return Node{}, fmt.Errorf("failed to create folder marker: %w", err)
	}
	return Node{Handle: key, Name: name, IsDir: true}, nil
}

func (s *minioSession) Upload(ctx context.Context, parent Node, name string, size int64, body io.Reader) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, parent.Handle+name, body, size, minio.PutObjectOptions{
		ContentType:  "application/gzip",
		UserMetadata: map[string]string{"backup-tool": "clinic-backup"},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	return info.Size, nil
}

func (s *minioSession) Delete(ctx context.Context, node Node) error {
	if err := s.client.RemoveObject(ctx, s.bucket, node.Handle, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from MinIO: %w", err)
	}
	return nil
}

func (s *minioSession) Close() error {
	return nil
}
