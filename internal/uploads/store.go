package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openharbor/chunkstream/internal/common"
	"github.com/openharbor/chunkstream/pkg/types"
	"gorm.io/gorm"
)

// SessionStore persists upload session records keyed by id.
type SessionStore struct {
	db *common.Database
}

// NewSessionStore creates a session store on the given database
func NewSessionStore(db *common.Database) *SessionStore {
	return &SessionStore{db: db}
}

// Create persists a new session record
func (s *SessionStore) Create(ctx context.Context, upload *types.Upload) error {
	if err := s.db.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// Get fetches a session by id
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*types.Upload, error) {
	var upload types.Upload
	if err := s.db.WithContext(ctx).First(&upload, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}
	return &upload, nil
}

// SetOffset persists an advanced offset for the session
func (s *SessionStore) SetOffset(ctx context.Context, upload *types.Upload, offset int64) error {
	if err := s.db.WithContext(ctx).Model(upload).Update("offset", offset).Error; err != nil {
		return fmt.Errorf("failed to persist upload offset: %w", err)
	}
	upload.Offset = offset
	return nil
}

// SetStatus persists a status transition for the session
func (s *SessionStore) SetStatus(ctx context.Context, upload *types.Upload, status types.UploadStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == types.StatusComplete {
		now := time.Now().UTC()
		updates["completed_at"] = &now
		updates["sha256"] = upload.SHA256
		upload.CompletedAt = &now
	}
	if err := s.db.WithContext(ctx).Model(upload).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to persist upload status: %w", err)
	}
	upload.Status = status
	return nil
}

// Delete removes a session record
func (s *SessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&types.Upload{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}
	return nil
}

// FindByOwner returns all sessions belonging to the given owner
func (s *SessionStore) FindByOwner(ctx context.Context, owner uuid.UUID) ([]*types.Upload, error) {
	var uploads []*types.Upload
	if err := s.db.WithContext(ctx).Where("owner_id = ?", owner).Order("created_at DESC").Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("failed to list upload sessions: %w", err)
	}
	return uploads, nil
}

// FindCreatedBefore returns all sessions created before the cutoff,
// regardless of status. Used by the expiration sweep.
func (s *SessionStore) FindCreatedBefore(ctx context.Context, cutoff time.Time) ([]*types.Upload, error) {
	var uploads []*types.Upload
	if err := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("failed to find expired upload sessions: %w", err)
	}
	return uploads, nil
}
