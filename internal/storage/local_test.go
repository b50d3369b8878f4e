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

func setupTestStorage(t *testing.T) *LocalStorage {
	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return storage
}

func createTempFile(t *testing.T) string {
	file, err := os.CreateTemp(t.TempDir(), "blocker")
	require.NoError(t, err)
	require.NoError(t, file.Close())
	return file.Name()
}

func readBlob(t *testing.T, storage *LocalStorage, path string) string {
	reader, err := storage.Retrieve(context.Background(), path)
	require.NoError(t, err)
	defer reader.Close()
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(content)
}

func TestNewLocalStorage(t *testing.T) {
	tests := []struct {
		name        string
		basePath    string
		shouldError bool
	}{
		{
			name:        "valid path",
			basePath:    t.TempDir(),
			shouldError: false,
		},
		{
			name:        "non-existent path",
			basePath:    filepath.Join(t.TempDir(), "nested", "path"),
			shouldError: false,
		},
		{
			name:        "invalid path (file instead of directory)",
			basePath:    createTempFile(t),
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewLocalStorage(tt.basePath)

			if tt.shouldError {
				assert.Error(t, err)
				assert.Nil(t, storage)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, storage)
				assert.Equal(t, tt.basePath, storage.basePath)

				// Verify directory was created
				info, err := os.Stat(tt.basePath)
				assert.NoError(t, err)
				assert.True(t, info.IsDir())
			}
		})
	}
}

func TestLocalStorage_AppendAt(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	written, err := storage.AppendAt(ctx, "sessions/blob", 0, strings.NewReader("hello "))
	require.NoError(t, err)
	assert.Equal(t, int64(6), written)

	written, err = storage.AppendAt(ctx, "sessions/blob", 6, strings.NewReader("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), written)

	assert.Equal(t, "hello world", readBlob(t, storage, "sessions/blob"))

	size, err := storage.Size(ctx, "sessions/blob")
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
}

func TestLocalStorage_AppendAtOverwritesStaleBytes(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.AppendAt(ctx, "blob", 0, strings.NewReader("0123456789"))
	require.NoError(t, err)

	// A retry from an earlier offset replaces everything after it,
	// including bytes a failed attempt left behind.
	_, err = storage.AppendAt(ctx, "blob", 4, strings.NewReader("XY"))
	require.NoError(t, err)

	assert.Equal(t, "0123XY", readBlob(t, storage, "blob"))

	size, err := storage.Size(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)
}

func TestLocalStorage_AppendAtCancelledContext(t *testing.T) {
	storage := setupTestStorage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storage.AppendAt(ctx, "blob", 0, strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_SizeMissingBlob(t *testing.T) {
	storage := setupTestStorage(t)

	// A session without a first chunk has no blob yet.
	size, err := storage.Size(context.Background(), "nothing/here")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestLocalStorage_RetrieveMissingBlob(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.Retrieve(context.Background(), "nothing/here")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "blob not found")
}

func TestLocalStorage_Delete(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.AppendAt(ctx, "blob", 0, strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, storage.Delete(ctx, "blob"))

	exists, err := storage.Exists(ctx, "blob")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting an already-deleted blob is not an error.
	assert.NoError(t, storage.Delete(ctx, "blob"))
}

func TestLocalStorage_Exists(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	exists, err := storage.Exists(ctx, "blob")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = storage.AppendAt(ctx, "blob", 0, strings.NewReader("data"))
	require.NoError(t, err)

	exists, err = storage.Exists(ctx, "blob")
	require.NoError(t, err)
	assert.True(t, exists)
}
