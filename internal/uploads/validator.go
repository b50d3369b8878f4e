package uploads

// ValidateRange checks a claimed half-open byte range [start, end)
// against the session's current offset and the configured size cap.
// total is the declared final size of the whole file, or a negative
// value when the client did not declare one. maxSize of zero means
// unlimited.
//
// Chunks must be contiguous and strictly in order: the claimed start
// has to equal the number of bytes already stored. No gaps, no
// overlap, no reordering.
func ValidateRange(start, end, total, offset, maxSize int64) error {
	if start < 0 || end < start {
		return ErrInvalidRange
	}
	if total >= 0 && end > total {
		return ErrInvalidRange
	}
	if maxSize > 0 && (end > maxSize || total > maxSize) {
		return ErrSizeLimit
	}
	if start != offset {
		return ErrOffsetMismatch.WithOffset(offset)
	}
	return nil
}
