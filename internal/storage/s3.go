package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Credentials is the credential shape of an s3 destination.
type s3Credentials struct {
	AccessKeyID     string `yaml:"accessKeyId" validate:"required"`
	SecretAccessKey string `yaml:"secretAccessKey" validate:"required"`
	Bucket          string `yaml:"bucket" validate:"required"`
	Region          string `yaml:"region" validate:"required_without=Endpoint"`
	Endpoint        string `yaml:"endpoint"` // Optional custom endpoint for S3-compatible services
}

// S3Dialer opens sessions against S3 or an S3-compatible service. Folders
// are "/"-terminated key prefixes backed by zero-byte marker objects.
type S3Dialer struct{}

// NewS3Dialer creates a dialer for the reference adapter.
func NewS3Dialer() *S3Dialer {
	return &S3Dialer{}
}

// CheckConfig implements Dialer.
func (d *S3Dialer) CheckConfig(cfg Config) error {
	var creds s3Credentials
	return decodeCredentials(cfg, &creds)
}

// Dial implements Dialer. The bucket is probed so bad credentials fail here.
func (d *S3Dialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	var creds s3Credentials
	if err := decodeCredentials(cfg, &creds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	region := creds.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS config: %w", ErrDependencyUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Use path style for custom endpoints
		o.UsePathStyle = creds.Endpoint != ""
		if creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(creds.Bucket)}); err != nil {
		return nil, classifyS3Error(err)
	}

	return &s3Session{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   creds.Bucket,
	}, nil
}

func classifyS3Error(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: bucket not found: %w", ErrConnectionFailed, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

type s3Session struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

func (s *s3Session) Root() Node {
	return Node{Handle: "", IsDir: true}
}

func (s *s3Session) Children(ctx context.Context, parent Node) ([]Node, error) {
	var nodes []Node
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(parent.Handle),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}

		for _, cp := range page.CommonPrefixes {
			prefix := aws.ToString(cp.Prefix)
			nodes = append(nodes, Node{
				Handle: prefix,
				Name:   childName(parent.Handle, prefix),
				IsDir:  true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == parent.Handle {
				// folder marker of the parent itself
				continue
			}
			nodes = append(nodes, Node{
				Handle:  key,
				Name:    childName(parent.Handle, key),
				IsDir:   strings.HasSuffix(key, "/"),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return nodes, nil
}

func (s *s3Session) Mkdir(ctx context.Context, parent Node, name string) (Node, error) {
	key := parent.Handle + name + "/"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return Node{}, fmt.Errorf("failed to create folder marker: %w", err)
	}
	return Node{Handle: key, Name: name, IsDir: true}, nil
}

func (s *s3Session) Upload(ctx context.Context, parent Node, name string, size int64, body io.Reader) (int64, error) {
	key := parent.Handle + name
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
		Metadata: map[string]string{
			"backup-tool": "clinic-backup",
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload to S3: %w", err)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// size is then taken from the local artifact
		return 0, nil
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (s *s3Session) Delete(ctx context.Context, node Node) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(node.Handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func (s *s3Session) Close() error {
	return nil
}

// childName strips the parent prefix and the trailing slash of folder keys.
func childName(parentPrefix, key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, parentPrefix), "/")
}
