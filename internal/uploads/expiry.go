package uploads

import "time"

// IsExpired reports whether a session created at createdAt is past its
// time-to-live at instant now. Checked lazily on every operation, so
// an abandoned session rejects requests even before the sweep reaps it.
func IsExpired(createdAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(createdAt) > ttl
}
