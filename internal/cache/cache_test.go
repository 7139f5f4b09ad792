package cache_test

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/shortlinkhq/shortlink/internal/cache"
)

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return cache.New(rdb, logger), mr
}

func TestGetSetDelExists(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var got string
	require.ErrorIs(t, c.Get(ctx, "k", &got), cache.ErrMiss)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Get(ctx, "k", &got))
	require.Equal(t, "v", got)

	require.NoError(t, c.Del(ctx, "k"))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetOrSet_SingleFlight(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int64
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "fetched-value", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var v string
			err := c.GetOrSet(ctx, "hot-key", time.Minute, &v, fetch)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(1), atomic.LoadInt64(&calls), "fetch must run exactly once across concurrent callers")
	for _, v := range results {
		require.Equal(t, "fetched-value", v)
	}

	var cached string
	require.NoError(t, c.Get(ctx, "hot-key", &cached))
	require.Equal(t, "fetched-value", cached)
}

func TestGetOrSet_FetchFailureDoesNotPoisonKey(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("boom")
	var v string
	err := c.GetOrSet(ctx, "k", time.Minute, &v, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "a failed fetch must not leave a synthetic value behind")

	// Retrying succeeds normally.
	err = c.GetOrSet(ctx, "k", time.Minute, &v, func(ctx context.Context) (any, error) {
		return "ok-now", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok-now", v)
}

func TestBackendOutageReportsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.Close()

	var got string
	err := c.Get(ctx, "k", &got)
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestMGetMSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.MSet(ctx, map[string]any{
		"a": "1",
		"b": "2",
	}, time.Minute))

	got, err := c.MGet(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Contains(t, got, "a")
	require.Contains(t, got, "b")
	require.NotContains(t, got, "missing")
}

func TestClearPattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:1", "x", 0))
	require.NoError(t, c.Set(ctx, "session:2", "x", 0))
	require.NoError(t, c.Set(ctx, "link:abc", "x", 0))

	n, err := c.ClearPattern(ctx, "session:")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ok, err := c.Exists(ctx, "link:abc")
	require.NoError(t, err)
	require.True(t, ok)
}
