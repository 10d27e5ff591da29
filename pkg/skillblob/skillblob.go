// Package skillblob stores skill bundles content-addressed by the hex
// SHA-256 the registry computed at registration time. The sandbox loads
// WASM modules from here; keys are never client-chosen.
package skillblob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrBundleNotFound is returned for hashes with no stored bundle.
var ErrBundleNotFound = errors.New("skill bundle not found")

// Store is the contract for content-addressed bundle storage.
type Store interface {
	// Put persists data under its content hash. Rejects data whose
	// SHA-256 does not match contentHash.
	Put(ctx context.Context, contentHash string, data []byte) error
	Get(ctx context.Context, contentHash string) ([]byte, error)
	Exists(ctx context.Context, contentHash string) (bool, error)
	Delete(ctx context.Context, contentHash string) error
}

// validateKey requires a bare 64-char hex SHA-256 and returns it verified.
func validateKey(contentHash string) (string, error) {
	if len(contentHash) != 64 {
		return "", fmt.Errorf("skillblob: invalid content hash length %d", len(contentHash))
	}
	if _, err := hex.DecodeString(contentHash); err != nil {
		return "", fmt.Errorf("skillblob: invalid content hash: %w", err)
	}
	return contentHash, nil
}

// verifyContent checks data against its claimed hash so a corrupted or
// swapped bundle can never be stored under a vetted hash.
func verifyContent(contentHash string, data []byte) error {
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != contentHash {
		return fmt.Errorf("skillblob: content does not match hash %s", contentHash)
	}
	return nil
}

// FileStore is a filesystem-backed Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the bundle directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("skillblob: ensure bundle dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(contentHash string) string {
	return filepath.Join(s.baseDir, contentHash+".wasm")
}

// Put writes the bundle atomically (temp file, then rename). Re-storing an
// existing hash is a no-op.
func (s *FileStore) Put(ctx context.Context, contentHash string, data []byte) error {
	key, err := validateKey(contentHash)
	if err != nil {
		return err
	}
	if err := verifyContent(key, data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("skillblob: write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("skillblob: commit bundle: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, contentHash string) ([]byte, error) {
	key, err := validateKey(contentHash)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, key)
		}
		return nil, fmt.Errorf("skillblob: open bundle: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("skillblob: read bundle: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	key, err := validateKey(contentHash)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("skillblob: stat bundle: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, contentHash string) error {
	key, err := validateKey(contentHash)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("skillblob: delete bundle: %w", err)
	}
	return nil
}
