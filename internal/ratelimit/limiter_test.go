package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	config := DefaultConfig()
	limiter := NewLimiter(config)
	require.NotNil(t, limiter)

	stats := limiter.GetStats()
	assert.Equal(t, config.BurstSize, stats.BurstSize)
	assert.Equal(t, 0, stats.TrackedKeys)
}

func TestLimiter_WaitBurstThenThrottle(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 2})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "cti"))
	require.NoError(t, limiter.Wait(ctx, "cti"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, limiter.Wait(ctx, "cti"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})

	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"))
	assert.Equal(t, 2, limiter.GetStats().TrackedKeys)

	limiter.Reset()
	assert.Equal(t, 0, limiter.GetStats().TrackedKeys)
	assert.True(t, limiter.Allow("a"))
}

func TestLimiter_MinDelay(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1000, BurstSize: 10, MinDelay: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "aev"))
	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "aev"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.1, BurstSize: 1})
	require.True(t, limiter.Allow("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx, "slow"))
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0, BurstSize: 1})
	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("x"))
	}
}

func TestLimiter_Prune(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	assert.True(t, limiter.Allow("10.0.0.1"))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.2"))

	assert.Equal(t, 1, limiter.Prune(50*time.Millisecond))
	assert.Equal(t, 1, limiter.GetStats().TrackedKeys)

	// A pruned key starts with a full bucket again.
	assert.True(t, limiter.Allow("10.0.0.1"))
}
