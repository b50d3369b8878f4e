package uploads

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/openharbor/chunkstream/internal/common"
	"github.com/openharbor/chunkstream/internal/storage"
	"github.com/openharbor/chunkstream/pkg/config"
	"github.com/openharbor/chunkstream/pkg/types"
	"github.com/openharbor/chunkstream/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Service coordinates upload sessions: it resolves sessions, enforces
// the single-writer guard, validates byte ranges, appends chunks to
// storage and keeps the persisted offset the source of truth for how
// much of the file is safely stored.
type Service struct {
	Store   *SessionStore
	Storage storage.ChunkStorage
	Guard   Guard
	Cache   SnapshotCache
	cfg     *config.UploadConfig
}

// SnapshotCache stores client-facing snapshots of sealed sessions so
// status polls on finished uploads skip the database. *common.Cache
// satisfies it; a nil cache disables caching.
type SnapshotCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}

// NewService creates a new upload service. cache may be nil.
func NewService(db *common.Database, chunkStorage storage.ChunkStorage, guard Guard, cache SnapshotCache, cfg *config.UploadConfig) *Service {
	return &Service{
		Store:   NewSessionStore(db),
		Storage: chunkStorage,
		Guard:   guard,
		Cache:   cache,
		cfg:     cfg,
	}
}

// AppendRequest carries one chunk of an upload. An empty UploadID
// starts a new session. Start and End describe the half-open byte
// range [Start, End) the chunk claims to cover; TotalSize is the
// declared size of the whole file, negative when unknown.
type AppendRequest struct {
	UploadID    string
	Owner       *uuid.UUID
	Filename    string
	ContentType string
	Start       int64
	End         int64
	TotalSize   int64
	Body        io.Reader
}

// AppendChunk stores one chunk and advances the session offset.
//
// The append-then-persist ordering is deliberate: bytes are durably
// written before the offset moves, so a crash between the two leaves
// unreferenced bytes in the blob which the next append overwrites.
// The session never claims bytes that are not present.
func (s *Service) AppendChunk(ctx context.Context, req *AppendRequest) (*types.UploadSnapshot, error) {
	if req.Body == nil {
		return nil, ErrMissingChunk
	}

	upload, err := s.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	release, err := s.Guard.Acquire(ctx, upload.ID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	// The pre-guard read only locates the session. The offset and
	// status the range is checked against must come from inside the
	// critical section, or a writer descheduled between fetch and
	// acquire would validate a replayed chunk against a stale offset
	// and overwrite bytes another writer just appended.
	if req.UploadID != "" {
		upload, err = s.fetchUsable(ctx, req.UploadID, req.Owner)
		if err != nil {
			return nil, err
		}
	}

	if err := ValidateRange(req.Start, req.End, req.TotalSize, upload.Offset, s.cfg.MaxUploadSize); err != nil {
		return nil, err
	}

	written, err := s.Storage.AppendAt(ctx, upload.StoragePath, upload.Offset, req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to append chunk: %w", err)
	}
	if written != req.End-req.Start {
		// The blob now ends at offset+written, but the offset was not
		// advanced, so the next append overwrites the partial chunk.
		return nil, ErrChunkSizeMismatch
	}

	if err := s.Store.SetOffset(ctx, upload, req.End); err != nil {
		return nil, err
	}

	log.Debug().
		Str("upload_id", upload.ID.String()).
		Int64("offset", upload.Offset).
		Msg("chunk accepted")

	return s.snapshot(upload), nil
}

// Complete seals an upload after verifying the declared size and, when
// supplied, the expected digest. The guard is held across the
// transition so a chunk cannot land after completion is decided.
func (s *Service) Complete(ctx context.Context, id string, owner *uuid.UUID, req *types.CompleteRequest) (*types.CompleteResult, error) {
	upload, err := s.fetchUsable(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	release, err := s.Guard.Acquire(ctx, upload.ID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the guard: a chunk that landed between the fetch
	// and the acquire must be visible to the size check, and a
	// completion that lost the race to another must see the terminal
	// status instead of sealing twice.
	upload, err = s.fetchUsable(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	if req.ExpectedSize != nil && *req.ExpectedSize != upload.Offset {
		return nil, ErrSizeMismatch
	}

	sum, err := s.computeChecksum(ctx, upload)
	if err != nil {
		return nil, err
	}
	if req.ExpectedSHA256 != "" && req.ExpectedSHA256 != sum {
		return nil, ErrChecksumMismatch
	}
	upload.SHA256 = sum

	if err := s.Store.SetStatus(ctx, upload, types.StatusComplete); err != nil {
		return nil, err
	}

	log.Info().
		Str("upload_id", upload.ID.String()).
		Str("filename", upload.Filename).
		Str("size", utils.FormatBytes(upload.Offset)).
		Str("sha256", sum).
		Msg("upload completed")

	return &types.CompleteResult{SizeChecked: req.ExpectedSize != nil}, nil
}

// Get returns the current snapshot of a session so an interrupted
// client can learn the offset to resume from. Snapshots of sessions in
// a terminal state never change again, so they are served from the
// cache when one is configured.
func (s *Service) Get(ctx context.Context, id string, owner *uuid.UUID) (*types.UploadSnapshot, error) {
	if s.Cache != nil {
		var cached cachedSnapshot
		if err := s.Cache.Get(ctx, snapshotKey(id), &cached); err == nil {
			probe := types.Upload{OwnerID: cached.OwnerID}
			if !probe.OwnedBy(owner) {
				return nil, ErrNotAuthorized
			}
			return &cached.Snapshot, nil
		}
	}

	upload, err := s.fetch(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if !upload.Status.Terminal() {
		if err := s.checkExpiry(ctx, upload); err != nil {
			return nil, err
		}
	}

	snap := s.snapshot(upload)
	if s.Cache != nil && upload.Status.Terminal() {
		entry := cachedSnapshot{Snapshot: *snap, OwnerID: upload.OwnerID}
		if err := s.Cache.Set(ctx, snapshotKey(id), entry, s.cfg.TTL); err != nil {
			log.Warn().Err(err).Str("upload_id", id).Msg("failed to cache snapshot")
		}
	}
	return snap, nil
}

// ListByOwner returns all sessions recorded for the given owner
func (s *Service) ListByOwner(ctx context.Context, owner uuid.UUID) ([]*types.Upload, error) {
	return s.Store.FindByOwner(ctx, owner)
}

// Delete cancels an upload, removing both the blob and the record.
func (s *Service) Delete(ctx context.Context, id string, owner *uuid.UUID) error {
	upload, err := s.fetch(ctx, id, owner)
	if err != nil {
		return err
	}

	// Hold the guard so an in-flight append cannot write to a blob
	// that is being removed.
	release, err := s.Guard.Acquire(ctx, upload.ID.String())
	if err != nil {
		return err
	}
	defer release()

	if err := s.Storage.Delete(ctx, upload.StoragePath); err != nil {
		return fmt.Errorf("failed to delete upload blob: %w", err)
	}
	if err := s.Store.Delete(ctx, upload.ID); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, upload.ID.String())

	log.Info().Str("upload_id", upload.ID.String()).Msg("upload deleted")
	return nil
}

// SweepResult reports what an expiration sweep removed.
type SweepResult struct {
	Deleted  []uuid.UUID
	ByStatus map[types.UploadStatus]int
}

// DeleteExpired reaps every session created before now minus the TTL,
// deleting the blob first and the record after. Sessions that are mid
// write are skipped and picked up by the next sweep.
func (s *Service) DeleteExpired(ctx context.Context, now time.Time) (*SweepResult, error) {
	cutoff := now.Add(-s.cfg.TTL)
	expired, err := s.Store.FindCreatedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{ByStatus: make(map[types.UploadStatus]int)}
	for _, upload := range expired {
		release, err := s.Guard.Acquire(ctx, upload.ID.String())
		if err != nil {
			log.Warn().Str("upload_id", upload.ID.String()).Msg("skipping busy upload during sweep")
			continue
		}

		err = s.Storage.Delete(ctx, upload.StoragePath)
		if err == nil {
			err = s.Store.Delete(ctx, upload.ID)
		}
		release()

		if err != nil {
			log.Error().Err(err).Str("upload_id", upload.ID.String()).Msg("failed to reap expired upload")
			continue
		}
		s.invalidateSnapshot(ctx, upload.ID.String())

		result.Deleted = append(result.Deleted, upload.ID)
		result.ByStatus[upload.Status]++
	}

	log.Info().
		Int("deleted", len(result.Deleted)).
		Time("cutoff", cutoff).
		Msg("expired uploads reaped")

	return result, nil
}

// resolveSession returns the session an append request targets,
// creating and persisting a fresh one when no id was supplied.
func (s *Service) resolveSession(ctx context.Context, req *AppendRequest) (*types.Upload, error) {
	if req.UploadID == "" {
		return s.createSession(ctx, req)
	}
	return s.fetchUsable(ctx, req.UploadID, req.Owner)
}

func (s *Service) createSession(ctx context.Context, req *AppendRequest) (*types.Upload, error) {
	if s.cfg.RequireOwner && req.Owner == nil {
		return nil, ErrNotAuthorized
	}

	id := uuid.New()
	upload := &types.Upload{
		ID:          id,
		OwnerID:     req.Owner,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		StoragePath: storagePathFor(id, req.Filename),
		Offset:      0,
		Status:      types.StatusUploading,
	}
	if err := s.Store.Create(ctx, upload); err != nil {
		return nil, err
	}

	log.Info().
		Str("upload_id", id.String()).
		Str("filename", upload.Filename).
		Msg("upload session created")

	return upload, nil
}

// fetch loads a session and enforces ownership; it does not reject
// terminal states.
func (s *Service) fetch(ctx context.Context, id string, owner *uuid.UUID) (*types.Upload, error) {
	uploadID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	upload, err := s.Store.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !upload.OwnedBy(owner) {
		return nil, ErrNotAuthorized
	}
	return upload, nil
}

// fetchUsable loads a session for a mutating operation: terminal
// states are rejected and the expiry check runs lazily.
func (s *Service) fetchUsable(ctx context.Context, id string, owner *uuid.UUID) (*types.Upload, error) {
	upload, err := s.fetch(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	switch upload.Status {
	case types.StatusComplete:
		return nil, ErrAlreadyComplete
	case types.StatusExpired:
		return nil, ErrExpired
	}

	if err := s.checkExpiry(ctx, upload); err != nil {
		return nil, err
	}
	return upload, nil
}

// checkExpiry applies the lazy expiration transition: a session past
// its TTL is marked expired and the current operation fails.
func (s *Service) checkExpiry(ctx context.Context, upload *types.Upload) error {
	if !IsExpired(upload.CreatedAt, time.Now().UTC(), s.cfg.TTL) {
		return nil
	}
	if err := s.Store.SetStatus(ctx, upload, types.StatusExpired); err != nil {
		log.Error().Err(err).Str("upload_id", upload.ID.String()).Msg("failed to mark upload expired")
	}
	return ErrExpired
}

// computeChecksum streams the blob through SHA-256. A session that
// never received a chunk has no blob; its digest is the empty hash.
func (s *Service) computeChecksum(ctx context.Context, upload *types.Upload) (string, error) {
	exists, err := s.Storage.Exists(ctx, upload.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to check upload blob: %w", err)
	}
	if !exists {
		return utils.ComputeSHA256(nil), nil
	}

	blob, err := s.Storage.Retrieve(ctx, upload.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve upload blob: %w", err)
	}
	defer blob.Close()

	sum, err := utils.ComputeSHA256FromReader(blob)
	if err != nil {
		return "", fmt.Errorf("failed to compute upload checksum: %w", err)
	}
	return sum, nil
}

// cachedSnapshot pairs a snapshot with the session owner so a cache
// hit still enforces the same access rule as a database read.
type cachedSnapshot struct {
	Snapshot types.UploadSnapshot `json:"snapshot"`
	OwnerID  *uuid.UUID           `json:"owner_id,omitempty"`
}

func snapshotKey(id string) string {
	return "chunkstream:snapshot:" + id
}

func (s *Service) invalidateSnapshot(ctx context.Context, id string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, snapshotKey(id)); err != nil {
		log.Warn().Err(err).Str("upload_id", id).Msg("failed to drop cached snapshot")
	}
}

func (s *Service) snapshot(upload *types.Upload) *types.UploadSnapshot {
	return &types.UploadSnapshot{
		UploadID:  upload.ID,
		Offset:    upload.Offset,
		Status:    string(upload.Status),
		ExpiresAt: upload.ExpiresAt(s.cfg.TTL),
	}
}

// storagePathFor places one blob per session, bucketed by creation
// date so operators can reason about on-disk layout.
func storagePathFor(id uuid.UUID, filename string) string {
	day := time.Now().UTC().Format("2006/01/02")
	return path.Join("sessions", day, id.String()+"_"+utils.SanitizeFilename(filename))
}
