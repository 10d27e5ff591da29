//go:build gcp

package skillblob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps skill bundles in a GCS bucket, keyed by content hash.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures a GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds the client from application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("skillblob: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(contentHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + contentHash + ".wasm")
}

func (s *GCSStore) Put(ctx context.Context, contentHash string, data []byte) error {
	key, err := validateKey(contentHash)
	if err != nil {
		return err
	}
	if err := verifyContent(key, data); err != nil {
		return err
	}

	obj := s.object(key)
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/wasm"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("skillblob: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("skillblob: gcs commit: %w", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, contentHash string) ([]byte, error) {
	key, err := validateKey(contentHash)
	if err != nil {
		return nil, err
	}

	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, key)
		}
		return nil, fmt.Errorf("skillblob: gcs get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("skillblob: gcs read %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	key, err := validateKey(contentHash)
	if err != nil {
		return false, err
	}

	if _, err := s.object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("skillblob: gcs attrs: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, contentHash string) error {
	key, err := validateKey(contentHash)
	if err != nil {
		return err
	}

	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("skillblob: gcs delete %s: %w", key, err)
	}
	return nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
