package skillblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BackendType selects the bundle storage backend.
type BackendType string

const (
	BackendFS  BackendType = "fs"
	BackendS3  BackendType = "s3"
	BackendGCS BackendType = "gcs"
)

// NewStoreFromEnv selects a backend from environment variables.
//
// Environment variables:
//   - SKILL_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem store (default: "data")
//
// For S3:
//   - SKILL_S3_BUCKET (required)
//   - SKILL_S3_REGION or AWS_REGION
//   - SKILL_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - SKILL_S3_PREFIX (optional)
//
// For GCS:
//   - SKILL_GCS_BUCKET (required)
//   - SKILL_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	backend := BackendType(os.Getenv("SKILL_STORAGE_TYPE"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "skills"))
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("skillblob: unsupported storage type %q", backend)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("SKILL_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("skillblob: SKILL_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("SKILL_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("SKILL_S3_ENDPOINT"),
		Prefix:   os.Getenv("SKILL_S3_PREFIX"),
	})
}
