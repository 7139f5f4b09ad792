package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/apperr"
	"github.com/shortlinkhq/shortlink/internal/ratelimit"
)

func newRDB(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestLoginCounter_ThresholdAndClear(t *testing.T) {
	rdb := newRDB(t)
	lc := ratelimit.NewLoginCounter(rdb)
	ctx := context.Background()

	for i := 0; i < ratelimit.LoginThreshold; i++ {
		require.NoError(t, lc.Check(ctx, "a@b.com", "1.2.3.4"))
		require.NoError(t, lc.RecordFailure(ctx, "a@b.com", "1.2.3.4"))
	}

	err := lc.Check(ctx, "a@b.com", "1.2.3.4")
	require.Error(t, err)
	require.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(err))

	require.NoError(t, lc.Clear(ctx, "a@b.com", "1.2.3.4"))
	require.NoError(t, lc.Check(ctx, "a@b.com", "1.2.3.4"))
}

func TestLoginCounter_IsolatedByIdentityAndIP(t *testing.T) {
	rdb := newRDB(t)
	lc := ratelimit.NewLoginCounter(rdb)
	ctx := context.Background()

	for i := 0; i < ratelimit.LoginThreshold; i++ {
		require.NoError(t, lc.RecordFailure(ctx, "a@b.com", "1.2.3.4"))
	}
	require.Error(t, lc.Check(ctx, "a@b.com", "1.2.3.4"))
	require.NoError(t, lc.Check(ctx, "a@b.com", "5.6.7.8"), "different IP must not share the counter")
	require.NoError(t, lc.Check(ctx, "c@d.com", "1.2.3.4"), "different identity must not share the counter")
}

func TestRouteLimiter_Allow(t *testing.T) {
	rl := ratelimit.NewRouteLimiter(2, time.Minute)
	require.NoError(t, rl.Allow("ip1"))
	require.NoError(t, rl.Allow("ip1"))
	err := rl.Allow("ip1")
	require.Error(t, err)
	require.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(err))

	require.NoError(t, rl.Allow("ip2"), "distinct keys get independent buckets")
}
