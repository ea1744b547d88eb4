package config

import (
	"context"
	"fmt"

	"github.com/kazz187/worktrack/pkg/storage"
)

// OpenStorage builds the configured backend. local is non-nil only for the
// local backend, which is the only one that can be watched for external
// edits.
func (e *StorageEnv) OpenStorage(ctx context.Context) (s storage.Storage, local *storage.LocalStorage, err error) {
	switch e.Type {
	case "s3":
		if e.S3Bucket == "" {
			return nil, nil, fmt.Errorf("S3_BUCKET is required for s3 storage")
		}
		s3, err := storage.NewS3Storage(ctx, e.S3Bucket, e.S3Prefix, e.S3Region)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return s3, nil, nil
	case "local", "":
		l, err := storage.NewLocalStorage(e.BaseDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return l, l, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", e.Type)
	}
}
