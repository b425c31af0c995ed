//go:build gcp

package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSArchiver uploads bundles to a Google Cloud Storage bucket.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

func newGCSArchiver(ctx context.Context, cfg ArchiveConfig) (Archiver, error) {
	// Application default credentials.
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *GCSArchiver) Archive(ctx context.Context, b *AuditBundle) (string, error) {
	data, err := marshalBundle(b)
	if err != nil {
		return "", err
	}
	key := bundleKey(a.prefix, b)
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{"bundle-hash": b.BundleHash}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return "gs://" + a.bucket + "/" + key, nil
}

// Close closes the GCS client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
