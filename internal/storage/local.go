package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements ChunkStorage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// AppendAt writes content into the blob at offset and truncates the
// blob to the end of what was written. The caller serializes writers
// per blob; this method does not guard against concurrent appends to
// the same path.
func (ls *LocalStorage) AppendAt(ctx context.Context, path string, offset int64, content io.Reader) (int64, error) {
	startTime := time.Now()

	// Check if context is cancelled before starting
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	fullPath := filepath.Join(ls.basePath, path)

	// Ensure the directory exists
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Str("dir", dir).Msg("failed to create directory")
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open blob")
		return 0, fmt.Errorf("failed to open blob: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		log.Error().Err(err).Str("path", path).Int64("offset", offset).Msg("failed to seek in blob")
		return 0, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	written, err := io.Copy(file, content)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write chunk")
		return 0, fmt.Errorf("failed to write chunk: %w", err)
	}

	// Drop any stale bytes a previously failed attempt may have left
	// beyond the new end of the blob.
	if err := file.Truncate(offset + written); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to truncate blob")
		return 0, fmt.Errorf("failed to truncate blob: %w", err)
	}

	// Ensure data is flushed to disk before the caller persists offset
	if err := file.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync blob")
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int64("offset", offset).
		Int64("bytes_written", written).
		Dur("duration", time.Since(startTime)).
		Msg("chunk appended")

	return written, nil
}

// Retrieve gets content from the local filesystem
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("blob not found")
			return nil, fmt.Errorf("blob not found: %s", path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open blob")
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	return file, nil
}

// Delete removes content from the local filesystem
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("blob already deleted or does not exist")
			return nil // Already deleted
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete blob")
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	log.Info().Str("path", path).Msg("blob deleted")
	return nil
}

// Exists checks if content exists in the local filesystem
func (ls *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to check blob existence")
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}

	return true, nil
}

// Size returns the number of bytes stored for the blob
func (ls *LocalStorage) Size(ctx context.Context, path string) (int64, error) {
	fullPath := filepath.Join(ls.basePath, path)

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			// A session that has not received its first chunk has no blob yet.
			return 0, nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to stat blob")
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}

	return info.Size(), nil
}
