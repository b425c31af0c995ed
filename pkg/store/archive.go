package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver stores exported audit bundles outside the process.
type Archiver interface {
	// Archive writes b and returns where it was put.
	Archive(ctx context.Context, b *AuditBundle) (string, error)
}

// ArchiveKind selects an Archiver backend.
type ArchiveKind string

const (
	ArchiveFS  ArchiveKind = "fs"
	ArchiveS3  ArchiveKind = "s3"
	ArchiveGCS ArchiveKind = "gcs"
)

// ArchiveConfig configures NewArchiver.
type ArchiveConfig struct {
	Kind     ArchiveKind
	Dir      string // fs
	Bucket   string // s3, gcs
	Region   string // s3
	Endpoint string // s3, optional (MinIO, LocalStack)
	Prefix   string
}

// NewArchiver builds the archiver selected by cfg.Kind.
func NewArchiver(ctx context.Context, cfg ArchiveConfig) (Archiver, error) {
	switch cfg.Kind {
	case ArchiveFS, "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("archive directory is required for fs archiving")
		}
		return &FileArchiver{Dir: cfg.Dir}, nil
	case ArchiveS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("ARCHIVE_BUCKET is required for S3 archiving")
		}
		return NewS3Archiver(ctx, cfg)
	case ArchiveGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("ARCHIVE_BUCKET is required for GCS archiving")
		}
		return newGCSArchiver(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported archive kind: %s", cfg.Kind)
	}
}

func bundleKey(prefix string, b *AuditBundle) string {
	return prefix + b.SubmissionID + "/" + b.BundleID + ".json"
}

func marshalBundle(b *AuditBundle) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle %s: %w", b.BundleID, err)
	}
	return data, nil
}

// FileArchiver writes bundles under a local directory.
type FileArchiver struct {
	Dir string
}

func (a *FileArchiver) Archive(_ context.Context, b *AuditBundle) (string, error) {
	data, err := marshalBundle(b)
	if err != nil {
		return "", err
	}
	path := filepath.Join(a.Dir, filepath.FromSlash(bundleKey("", b)))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	return path, nil
}

// S3Archiver uploads bundles to an S3 bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg ArchiveConfig) (*S3Archiver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archiver) Archive(ctx context.Context, b *AuditBundle) (string, error) {
	data, err := marshalBundle(b)
	if err != nil {
		return "", err
	}
	key := bundleKey(a.prefix, b)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"bundle-hash": b.BundleHash},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}
