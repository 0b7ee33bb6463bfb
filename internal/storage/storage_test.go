package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreSaveOpenRemove(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	path, written, err := store.Save(ctx, "2026/01/02/v1.mp4", strings.NewReader("0123456789"), 10, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(10), written)
	assert.True(t, filepath.IsAbs(path))

	size, err := store.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	blob, err := store.Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(10), blob.Size())
	buf := make([]byte, 4)
	_, err = blob.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf))
	require.NoError(t, blob.Close())

	require.NoError(t, store.Remove(ctx, path))
	_, err = store.Open(ctx, path)
	require.ErrorIs(t, err, ErrBlobNotFound)
	_, err = store.Stat(ctx, path)
	require.ErrorIs(t, err, ErrBlobNotFound)
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewLocalStore(filepath.Join(root, "media"))
	require.NoError(t, err)

	outside := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))

	_, err = store.Open(ctx, outside)
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = store.Open(ctx, "../secret.txt")
	require.ErrorIs(t, err, ErrInvalidPath)
	_, _, err = store.Save(ctx, "../../evil", strings.NewReader("x"), 1, "")
	require.ErrorIs(t, err, ErrInvalidPath)
	_, err = store.Stat(ctx, "")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestLocalStoreSaveHonoursContext(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = store.Save(ctx, "v.mp4", strings.NewReader("data"), 4, "")
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestObjectPath(t *testing.T) {
	path := FormatObjectPath("bucket", "/2026/v1.mp4")
	assert.Equal(t, "s3://bucket/2026/v1.mp4", path)

	bucket, key, err := ParseObjectPath(path)
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "2026/v1.mp4", key)

	for _, bad := range []string{"/local/file", "s3://", "s3://bucket", "s3:///key"} {
		_, _, err := ParseObjectPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestRouterDispatch(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	router := NewRouter(local, nil, local)

	path, _, err := router.Save(ctx, "a.webm", strings.NewReader("abc"), 3, "video/webm")
	require.NoError(t, err)

	blob, err := router.Open(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(io.NewSectionReader(blob, 0, blob.Size()))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	require.NoError(t, blob.Close())

	_, err = router.Open(ctx, "s3://bucket/key")
	require.ErrorIs(t, err, ErrInvalidPath, "no object store configured")
}
