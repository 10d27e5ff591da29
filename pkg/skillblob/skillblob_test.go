package skillblob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwork-ai/governor/pkg/scanner"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	data := []byte("wasm bundle bytes")
	hash := scanner.ContentHash(data)

	require.NoError(t, s.Put(ctx, hash, data))

	got, err := s.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	exists, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFileStorePutIsIdempotent(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	data := []byte("bundle")
	hash := scanner.ContentHash(data)

	require.NoError(t, s.Put(ctx, hash, data))
	require.NoError(t, s.Put(ctx, hash, data))
}

func TestFileStoreRejectsMismatchedContent(t *testing.T) {
	s := newFileStore(t)

	hash := scanner.ContentHash([]byte("original"))
	err := s.Put(context.Background(), hash, []byte("tampered"))
	assert.ErrorContains(t, err, "does not match hash")
}

func TestFileStoreRejectsBadKeys(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "short")
	assert.Error(t, err)

	_, err = s.Get(ctx, "zz"+scanner.ContentHash([]byte("x"))[2:])
	assert.Error(t, err)
}

func TestFileStoreMissingBundle(t *testing.T) {
	s := newFileStore(t)

	_, err := s.Get(context.Background(), scanner.ContentHash([]byte("never stored")))
	assert.ErrorIs(t, err, ErrBundleNotFound)
}

func TestFileStoreDelete(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()

	data := []byte("ephemeral")
	hash := scanner.ContentHash(data)
	require.NoError(t, s.Put(ctx, hash, data))
	require.NoError(t, s.Delete(ctx, hash))

	exists, err := s.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing bundle is not an error.
	require.NoError(t, s.Delete(ctx, hash))
}

func TestNewStoreFromEnvDefaultsToFilesystem(t *testing.T) {
	t.Setenv("SKILL_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", t.TempDir())

	s, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
}

func TestNewStoreFromEnvRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SKILL_STORAGE_TYPE", "tape")

	_, err := NewStoreFromEnv(context.Background())
	assert.Error(t, err)
}
