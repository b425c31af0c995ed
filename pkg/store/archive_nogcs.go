//go:build !gcp

package store

import (
	"context"
	"fmt"
)

func newGCSArchiver(context.Context, ArchiveConfig) (Archiver, error) {
	return nil, fmt.Errorf("GCS archiving is not enabled in this build (use -tags gcp)")
}
