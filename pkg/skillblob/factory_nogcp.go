//go:build !gcp

package skillblob

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("skillblob: GCS storage is not enabled in this build (use -tags gcp)")
}
