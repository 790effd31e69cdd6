package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test:login:user:", window), mr
}

func TestTryAcquire_BlocksSecondAttempt(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "490884842")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryAcquire(ctx, "490884842")
	require.NoError(t, err)
	require.False(t, ok, "second acquire within the window must fail")

	// a different requester is unaffected
	ok, err = l.TryAcquire(ctx, "111")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTryAcquire_AllowsAfterExpiry(t *testing.T) {
	l, mr := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "490884842")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Minute + time.Second)

	ok, err = l.TryAcquire(ctx, "490884842")
	require.NoError(t, err)
	require.True(t, ok, "acquire after the window must succeed")
}

func TestRelease_AllowsImmediateReacquire(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	ok, err := l.TryAcquire(ctx, "490884842")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "490884842"))

	ok, err = l.TryAcquire(ctx, "490884842")
	require.NoError(t, err)
	require.True(t, ok)
}
