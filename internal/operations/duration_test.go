package operations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{999 * time.Millisecond, "0s"},
		{4 * time.Second, "4s"},
		{3*time.Minute + 4*time.Second, "3m 4s"},
		{2 * time.Hour, "2h"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1d 2h 3m 4s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in), tt.in.String())
	}
}

func TestElapsed(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-90 * time.Second)
	finish := now.Add(-30 * time.Second)
	future := now.Add(time.Minute)

	d, ok := elapsed(&start, &finish, now)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)

	d, ok = elapsed(&start, nil, now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	_, ok = elapsed(&future, nil, now)
	assert.False(t, ok, "clock skew must not produce a negative duration")

	_, ok = elapsed(nil, &finish, now)
	assert.False(t, ok)
}
