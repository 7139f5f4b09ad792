// Package cache implements the process-wide typed KV cache (§4.1): a thin
// JSON-over-Redis layer with a single-flight getOrSet stampede guard, used
// as the substrate for rate-limit counters, login-attempt tallies, token
// blacklists, and session records.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key is absent or its value could not
// be decoded. A backend outage is reported as a miss too — callers must be
// safe under "cache always cold".
var ErrMiss = errors.New("cache: miss")

// Cache wraps a redis client with typed get/set and the getOrSet
// single-flight primitive.
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
	group  singleflight.Group
}

// New builds a Cache over an already-connected redis client.
func New(rdb *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, logger: logger}
}

// Get decodes the JSON blob stored at k into dst. Returns ErrMiss on any
// absence, decode failure, or backend error.
func (c *Cache) Get(ctx context.Context, k string, dst any) error {
	raw, err := c.rdb.Get(ctx, k).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed, reporting miss", "key", k, "error", err)
		}
		return ErrMiss
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("cache value corrupt, reporting miss", "key", k, "error", err)
		return ErrMiss
	}
	return nil
}

// Set stores v at k as JSON. ttl == 0 means no expiry. Overwrite is allowed.
func (c *Cache) Set(ctx context.Context, k string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal value for %q: %w", k, err)
	}
	if err := c.rdb.Set(ctx, k, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", k, err)
	}
	return nil
}

// Del removes k, ignoring a not-found result.
func (c *Cache) Del(ctx context.Context, k string) error {
	if err := c.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("cache: del %q: %w", k, err)
	}
	return nil
}

// Exists reports whether k is present.
func (c *Cache) Exists(ctx context.Context, k string) (bool, error) {
	n, err := c.rdb.Exists(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %q: %w", k, err)
	}
	return n > 0, nil
}

// FetchFunc produces the value to populate a cold key with.
type FetchFunc func(ctx context.Context) (any, error)

// GetOrSet is the single-flight stampede guard: if k is present, its value
// is decoded into dst and returned. Otherwise fetch is invoked exactly once
// across concurrent callers sharing k, its result is cached with ttl and
// also decoded into dst. A fetch failure is propagated to every waiter and
// never poisons the key — the next call retries fetch from scratch.
func (c *Cache) GetOrSet(ctx context.Context, k string, ttl time.Duration, dst any, fetch FetchFunc) error {
	if err := c.Get(ctx, k, dst); err == nil {
		return nil
	}

	raw, err, _ := c.group.Do(k, func() (any, error) {
		v, ferr := fetch(ctx)
		if ferr != nil {
			return nil, ferr
		}
		encoded, merr := json.Marshal(v)
		if merr != nil {
			return nil, fmt.Errorf("cache: marshal fetched value for %q: %w", k, merr)
		}
		if serr := c.rdb.Set(ctx, k, encoded, ttl).Err(); serr != nil {
			c.logger.Warn("cache warm failed after fetch", "key", k, "error", serr)
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}

	encoded, ok := raw.([]byte)
	if !ok {
		return fmt.Errorf("cache: unexpected getOrSet result type for %q", k)
	}
	return json.Unmarshal(encoded, dst)
}

// MGet is a best-effort pipelined bulk get. Missing or corrupt entries are
// simply absent from the returned map rather than causing an error.
func (c *Cache) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: mget: %w", err)
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// MSet is a best-effort pipelined bulk set, all entries sharing ttl.
func (c *Cache) MSet(ctx context.Context, entries map[string]any, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for k, v := range entries {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("cache: marshal mset value for %q: %w", k, err)
		}
		pipe.Set(ctx, k, raw, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: mset pipeline: %w", err)
	}
	return nil
}

// Keys scans for keys matching pattern. Used only for session sweeps; a
// future implementation could substitute a secondary index set if SCAN
// cost becomes a problem.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: keys scan %q: %w", pattern, err)
	}
	return out, nil
}

// Ping reports whether the backing Redis is reachable, for readiness
// reporting (live-stats, health checks).
func (c *Cache) Ping(ctx context.Context) bool {
	return c.rdb.Ping(ctx).Err() == nil
}

// ClearPattern deletes every key matching prefix+"*". Administrative only,
// never called from the hot path.
func (c *Cache) ClearPattern(ctx context.Context, prefix string) (int, error) {
	keys, err := c.Keys(ctx, prefix+"*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("cache: clear pattern %q: %w", prefix, err)
	}
	return len(keys), nil
}
