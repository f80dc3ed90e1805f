package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowQuotaAllowsUpToLimit(t *testing.T) {
	q := NewSlidingWindowQuota(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, q.Allow("key-a"))
	}
	assert.False(t, q.Allow("key-a"))
}

func TestSlidingWindowQuotaIsPerKey(t *testing.T) {
	q := NewSlidingWindowQuota(1, time.Minute)
	assert.True(t, q.Allow("key-a"))
	assert.True(t, q.Allow("key-b"))
	assert.False(t, q.Allow("key-a"))
}

func TestSlidingWindowQuotaExpiresOldHits(t *testing.T) {
	q := NewSlidingWindowQuota(1, time.Minute)
	old := time.Now().Add(-2 * time.Minute)
	assert.True(t, q.allowAt("key-a", old))
	assert.True(t, q.allowAt("key-a", time.Now()))
}
