package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_AllowUntilEmpty(t *testing.T) {
	tb := NewTokenBucket(2, 0.001)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	assert.Equal(t, 0, tb.GetRemaining())
}

func TestSlidingWindow_WaitRespectsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.DeadlineExceeded)
}

func TestManager_EnsureRegistersOnce(t *testing.T) {
	m := NewRateLimitManager()
	calls := 0
	mk := func() RateLimiter {
		calls++
		return NewTokenBucket(1, 1)
	}
	l1 := m.Ensure("marketplace:x", mk)
	l2 := m.Ensure("marketplace:x", mk)
	assert.Same(t, l1, l2)
	assert.Equal(t, 1, calls)
	assert.Same(t, l1, m.GetLimiter("marketplace:x"))
}
