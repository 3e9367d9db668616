package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_WindowAndClear(t *testing.T) {
	limiter := NewMemoryLimiter(0)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for want := 1; want <= 6; want++ {
		n, retryAfter, err := limiter.Hit(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.Equal(t, time.Minute, retryAfter)
	}

	now = now.Add(20 * time.Second)
	n, retryAfter, err := limiter.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 40*time.Second, retryAfter)

	now = now.Add(40 * time.Second)
	n, _, err = limiter.Hit(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "window must reset once it has decayed")

	require.NoError(t, limiter.Clear(ctx, "k"))
	n, _, _ = limiter.Hit(ctx, "k", time.Minute)
	assert.Equal(t, 1, n)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	limiter := NewMemoryLimiter(0)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	_, _, _ = limiter.Hit(context.Background(), "old", time.Second)
	_, _, _ = limiter.Hit(context.Background(), "fresh", time.Hour)
	now = now.Add(2 * time.Second)
	limiter.sweep()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.windows, "old")
	assert.Contains(t, limiter.windows, "fresh")
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	limiter := NewMemoryLimiter(time.Millisecond)
	require.NoError(t, limiter.Close())
	require.NoError(t, limiter.Close())
}
