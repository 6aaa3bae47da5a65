package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripledger/commission/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result := rl.Check(ctx, "owner-a")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	ctx := context.Background()

	rl.Check(ctx, "owner-a")
	rl.Check(ctx, "owner-a")
	result := rl.Check(ctx, "owner-a")

	assert.False(t, result.Allowed)
	assert.Equal(t, "rate_limiter", result.Guard)

	err := rl.Allow(ctx, "owner-a")
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeRateLimited))
}

func TestRateLimiter_SeparateKeys(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	ctx := context.Background()

	assert.True(t, rl.Check(ctx, "owner-a").Allowed)
	assert.True(t, rl.Check(ctx, "owner-b").Allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(1, time.Minute)
	rl.now = clock.now
	ctx := context.Background()

	require.NoError(t, rl.Allow(ctx, "owner-a"))
	assert.Error(t, rl.Allow(ctx, "owner-a"))

	clock.advance(61 * time.Second)
	assert.NoError(t, rl.Allow(ctx, "owner-a"))
}

func TestRateLimiter_Prune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(5, time.Minute)
	rl.now = clock.now
	ctx := context.Background()

	rl.Check(ctx, "owner-a")
	clock.advance(30 * time.Second)
	rl.Check(ctx, "owner-b")
	clock.advance(45 * time.Second)

	assert.Equal(t, 1, rl.Prune())
	assert.Equal(t, 0, rl.Prune())
}

func TestCircuitBreaker_ClosedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(3, 5*time.Second)
	assert.True(t, cb.Check(context.Background(), "stripe").Allowed)
	assert.Equal(t, CircuitClosed, cb.State("stripe"))
}

func TestCircuitBreaker_OpensOnThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.RecordFailure("stripe")
	cb.RecordFailure("stripe")

	result := cb.Check(ctx, "stripe")
	assert.False(t, result.Allowed)
	assert.Equal(t, "circuit_breaker", result.Guard)
	assert.Equal(t, CircuitOpen, cb.State("stripe"))
	assert.True(t, cb.Check(ctx, "wire").Allowed, "circuits are per rail")
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := NewCircuitBreaker(2, 5*time.Second)
	ctx := context.Background()

	cb.RecordFailure("stripe")
	cb.RecordSuccess("stripe")
	cb.RecordFailure("stripe")

	assert.True(t, cb.Check(ctx, "stripe").Allowed)
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(1, 10*time.Second)
	cb.now = clock.now
	ctx := context.Background()

	cb.RecordFailure("stripe")
	assert.False(t, cb.Check(ctx, "stripe").Allowed)

	clock.advance(11 * time.Second)
	assert.True(t, cb.Check(ctx, "stripe").Allowed, "first trial call admitted")
	assert.Equal(t, CircuitHalfOpen, cb.State("stripe"))
	assert.False(t, cb.Check(ctx, "stripe").Allowed, "second trial call refused")

	cb.RecordFailure("stripe")
	assert.Equal(t, CircuitOpen, cb.State("stripe"))

	clock.advance(11 * time.Second)
	assert.True(t, cb.Check(ctx, "stripe").Allowed)
	cb.RecordSuccess("stripe")
	assert.Equal(t, CircuitClosed, cb.State("stripe"))
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	ctx := context.Background()
	boom := errors.New("processor down")

	err := cb.Execute(ctx, "stripe", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	called := false
	err = cb.Execute(ctx, "stripe", func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit_breaker")
	assert.False(t, called)
}
