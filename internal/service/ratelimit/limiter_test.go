package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("s-1", 3, 1), "token %d", i)
	}
	assert.False(t, l.Allow("s-1", 3, 1))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("s-1", 3, 1))
	assert.False(t, l.Allow("s-1", 3, 1))

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("s-1", 3, 1))
	}
	assert.False(t, l.Allow("s-1", 3, 1))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })

	assert.True(t, l.Allow("a", 1, 1))
	assert.False(t, l.Allow("a", 1, 1))
	assert.True(t, l.Allow("b", 1, 1))
	assert.Equal(t, 2, l.Len())
}
