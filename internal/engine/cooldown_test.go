package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupCooldownGuard(t *testing.T) (*CooldownGuard, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCooldownGuard(client), mr
}

func TestCooldownGuard_AcquireFirstCallerWins(t *testing.T) {
	guard, _ := setupCooldownGuard(t)
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired, "second caller within the window must be refused")
}

func TestCooldownGuard_DistinctStateKeysDoNotCollide(t *testing.T) {
	guard, _ := setupCooldownGuard(t)
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = guard.Acquire(ctx, "sub-1", "feed-b", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "a different state_key on the same subscription must not share the guard")
}

func TestCooldownGuard_ExpiresAfterTTL(t *testing.T) {
	guard, mr := setupCooldownGuard(t)
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Minute)

	acquired, err = guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "guard must release once its TTL elapses")
}

func TestCooldownGuard_ClearReleasesEarly(t *testing.T) {
	guard, _ := setupCooldownGuard(t)
	ctx := context.Background()

	_, err := guard.Acquire(ctx, "sub-1", "feed-a", time.Hour)
	require.NoError(t, err)

	require.NoError(t, guard.Clear(ctx, "sub-1", "feed-a"))

	acquired, err := guard.Acquire(ctx, "sub-1", "feed-a", time.Hour)
	require.NoError(t, err)
	require.True(t, acquired, "Clear must release the window before its TTL")
}

func TestCooldownGuard_NilClientAlwaysSucceeds(t *testing.T) {
	guard := NewCooldownGuard(nil)
	ctx := context.Background()

	acquired, err := guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = guard.Acquire(ctx, "sub-1", "feed-a", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired, "a disabled guard never refuses")
}
