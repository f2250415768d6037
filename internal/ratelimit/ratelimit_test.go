package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		strategy string
		check    func(t *testing.T, rl RateLimiter)
	}{
		{StrategyFixed, func(t *testing.T, rl RateLimiter) { assert.IsType(t, &SimpleRateLimiter{}, rl) }},
		{StrategyAdaptive, func(t *testing.T, rl RateLimiter) { assert.Implements(t, (*Feedback)(nil), rl) }},
		{"", func(t *testing.T, rl RateLimiter) { assert.IsType(t, &AdaptiveRateLimiter{}, rl) }},
		{StrategyToken, func(t *testing.T, rl RateLimiter) { assert.IsType(t, &TokenBucketRateLimiter{}, rl) }},
		{StrategyNone, func(t *testing.T, rl RateLimiter) { assert.IsType(t, Unlimited{}, rl) }},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			rl, err := New(tt.strategy, time.Millisecond, 2*time.Millisecond, 2)
			require.NoError(t, err)
			tt.check(t, rl)
		})
	}

	_, err := New("bogus", 0, 0, 0)
	assert.Error(t, err)
}

func TestSimpleRateLimiter_Wait(t *testing.T) {
	rl := NewSimpleRateLimiter(20*time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx))
	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestSimpleRateLimiter_ContextCancel(t *testing.T) {
	rl := NewSimpleRateLimiter(time.Second, time.Second)
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}

func TestAdaptiveRateLimiter(t *testing.T) {
	rl := NewAdaptiveRateLimiter(time.Second, 2*time.Second)

	for i := 0; i < 3; i++ {
		rl.RecordError()
	}
	min, max := rl.Delays()
	assert.Equal(t, 1500*time.Millisecond, min)
	assert.Equal(t, 3*time.Second, max)

	for i := 0; i < 6; i++ {
		rl.RecordSuccess()
	}
	min, _ = rl.Delays()
	assert.InDelta(t, float64(1350*time.Millisecond), float64(min), float64(time.Microsecond))

	for i := 0; i < 60; i++ {
		rl.RecordSuccess()
	}
	min, _ = rl.Delays()
	assert.Equal(t, time.Second, min, "never drops below the configured floor")
}

func TestTokenBucketRateLimiter(t *testing.T) {
	rl := NewTokenBucketRateLimiter(2, 30*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
