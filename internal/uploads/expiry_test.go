package uploads

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ttl := 24 * time.Hour

	tests := []struct {
		name      string
		createdAt time.Time
		want      bool
	}{
		{"just created", now, false},
		{"within ttl", now.Add(-23 * time.Hour), false},
		{"exactly at ttl", now.Add(-ttl), false},
		{"past ttl", now.Add(-ttl - time.Second), true},
		{"long abandoned", now.Add(-30 * 24 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(tt.createdAt, now, ttl))
		})
	}
}
