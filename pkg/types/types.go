package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UploadStatus is the lifecycle state of an upload session.
type UploadStatus string

const (
	// StatusUploading is the initial state: chunks may still be appended.
	StatusUploading UploadStatus = "uploading"
	// StatusComplete is terminal: the client verified and sealed the upload.
	StatusComplete UploadStatus = "complete"
	// StatusExpired is terminal: the session outlived its TTL.
	StatusExpired UploadStatus = "expired"
)

// Terminal reports whether no further transition may leave the status.
func (s UploadStatus) Terminal() bool {
	return s == StatusComplete || s == StatusExpired
}

// Upload is one in-progress or finished chunked upload session.
// Offset is the number of bytes durably stored for the session; it is
// the source of truth for how much of the file is safely on disk and
// only ever advances.
type Upload struct {
	ID          uuid.UUID    `json:"upload_id" gorm:"primaryKey"`
	OwnerID     *uuid.UUID   `json:"owner_id,omitempty" gorm:"type:uuid;index"`
	Filename    string       `json:"filename" gorm:"not null"`
	ContentType string       `json:"content_type"`
	StoragePath string       `json:"-" gorm:"not null"`
	Offset      int64        `json:"offset" gorm:"not null;default:0"`
	Status      UploadStatus `json:"status" gorm:"not null;default:uploading;index"`
	SHA256      string       `json:"sha256,omitempty" gorm:"column:sha256"`
	CreatedAt   time.Time    `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// BeforeCreate generates a UUID for the upload ID
func (u *Upload) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// ExpiresAt returns the instant the session becomes unusable.
func (u *Upload) ExpiresAt(ttl time.Duration) time.Time {
	return u.CreatedAt.Add(ttl)
}

// OwnedBy reports whether the given principal may act on this upload.
// A session without a recorded owner is open to anyone holding its id.
func (u *Upload) OwnedBy(owner *uuid.UUID) bool {
	if u.OwnerID == nil {
		return true
	}
	return owner != nil && *owner == *u.OwnerID
}

// UploadSnapshot is the client-facing view returned after every
// successful chunk append and on status queries.
type UploadSnapshot struct {
	UploadID  uuid.UUID `json:"upload_id"`
	Offset    int64     `json:"offset"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CompleteRequest is the payload sealing an upload.
type CompleteRequest struct {
	ExpectedSize   *int64 `json:"expected_size,omitempty"`
	ExpectedSHA256 string `json:"expected_sha256,omitempty"`
}

// CompleteResult reports whether the declared size was verified.
type CompleteResult struct {
	SizeChecked bool `json:"size_checked"`
}
