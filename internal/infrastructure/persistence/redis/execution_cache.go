package redis

import (
	"context"
	"errors"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/execution"
)

// ExecutionCache stores results of deterministic runs keyed by content hash.
type ExecutionCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewExecutionCache creates the cache. A non-positive ttl uses TTLExecution.
func NewExecutionCache(cache *Cache, ttl time.Duration) *ExecutionCache {
	if ttl <= 0 {
		ttl = TTLExecution
	}
	return &ExecutionCache{cache: cache, ttl: ttl}
}

// Get returns the cached result for key, if any.
func (c *ExecutionCache) Get(ctx context.Context, key string) (*execution.Result, bool, error) {
	res, err := getJSON[execution.Result](ctx, c.cache, ExecutionKey(key))
	switch {
	case errors.Is(err, ErrCacheMiss):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return &res, true, nil
}

// Set caches res under key. Nil results are ignored.
func (c *ExecutionCache) Set(ctx context.Context, key string, res *execution.Result) error {
	if res == nil {
		return nil
	}
	return setJSON(ctx, c.cache, ExecutionKey(key), res, c.ttl)
}
