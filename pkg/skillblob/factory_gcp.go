//go:build gcp

package skillblob

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("SKILL_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("skillblob: SKILL_GCS_BUCKET is required for GCS storage")
	}

	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("SKILL_GCS_PREFIX"),
	})
}
