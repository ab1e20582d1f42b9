package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond float64
		burst     int
		unlimited bool
	}{
		{name: "standard rate", perSecond: 100, burst: 200},
		{name: "fractional rate", perSecond: 0.5, burst: 1},
		{name: "zero burst raised", perSecond: 10, burst: 0},
		{name: "unlimited (zero rate)", perSecond: 0, burst: 0, unlimited: true},
		{name: "negative rate", perSecond: -1, burst: 5, unlimited: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.perSecond, tt.burst)
			require.NotNil(t, limiter)
			assert.Equal(t, tt.unlimited, limiter.Unlimited())
			assert.True(t, limiter.Allow(), "first event always fits the bucket")
		})
	}
}

func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "event %d is within burst", i)
	}
	assert.False(t, limiter.Allow(), "event beyond burst must be throttled")
}

func TestAllow_Unlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		require.True(t, limiter.Allow())
	}

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow())
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}

func TestWait(t *testing.T) {
	limiter := New(20, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "second event waits for a refill")
}

func TestWait_Cancelled(t *testing.T) {
	limiter := New(0.1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestWait_UnlimitedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, New(0, 0).Wait(ctx), context.Canceled)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 0.0, New(0, 0).Limit())
	assert.Equal(t, 50.0, New(50, 10).Limit())
}
