package uploads

import "net/http"

// Error is a client-facing protocol error. Every rejected operation
// maps to exactly one stable code plus an HTTP status, so a client can
// decide whether to resume, re-authenticate, or abandon the upload.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	// Offset is the session's current offset, populated on
	// offset-mismatch rejections so the client can resume correctly.
	Offset *int64 `json:"offset,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError constructs a coded protocol error
func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

// WithOffset returns a copy of the error carrying the current offset.
func (e *Error) WithOffset(offset int64) *Error {
	clone := *e
	clone.Offset = &offset
	return &clone
}

var (
	ErrNotAuthorized     = NewError("ERR_NOT_AUTHORIZED", "authentication credentials were not provided", http.StatusForbidden)
	ErrNotFound          = NewError("ERR_UPLOAD_NOT_FOUND", "upload not found", http.StatusNotFound)
	ErrExpired           = NewError("ERR_UPLOAD_EXPIRED", "upload has expired", http.StatusGone)
	ErrAlreadyComplete   = NewError("ERR_ALREADY_COMPLETE", `upload has already been marked as "complete"`, http.StatusBadRequest)
	ErrMissingChunk      = NewError("ERR_MISSING_CHUNK", "no chunk file was submitted", http.StatusBadRequest)
	ErrMissingRange      = NewError("ERR_MISSING_RANGE", "request does not contain Content-Range", http.StatusBadRequest)
	ErrInvalidBody       = NewError("ERR_INVALID_BODY", "invalid request body", http.StatusBadRequest)
	ErrInvalidRange      = NewError("ERR_INVALID_RANGE", "invalid content range", http.StatusBadRequest)
	ErrSizeLimit         = NewError("ERR_SIZE_LIMIT_EXCEEDED", "size of file exceeds the limit", http.StatusBadRequest)
	ErrOffsetMismatch    = NewError("ERR_OFFSET_MISMATCH", "offsets do not match", http.StatusBadRequest)
	ErrChunkSizeMismatch = NewError("ERR_CHUNK_SIZE_MISMATCH", "chunk size does not match content range", http.StatusBadRequest)
	ErrConflict          = NewError("ERR_UPLOAD_CONFLICT", "file is currently being written by another request", http.StatusBadRequest)
	ErrSizeMismatch      = NewError("ERR_SIZE_MISMATCH", "expected file size does not match", http.StatusBadRequest)
	ErrChecksumMismatch  = NewError("ERR_CHECKSUM_MISMATCH", "expected checksum does not match", http.StatusBadRequest)
)
