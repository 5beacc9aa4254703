package sqlstore

import (
	"context"
	"fmt"
	"maps"
	"net/url"

	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/ratelimit"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const rateLimitCachePrefix = "go-relay::ratelimit_state::v1"

// CachedRateLimitStateStore reads bucket state through the lookup cache.
// Writes go to the base store first and then drop the cached entry.
type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(base ratelimit.StateStore, cache repositorycache.CacheService) (*CachedRateLimitStateStore, error) {
	if base == nil || cache == nil {
		return nil, fmt.Errorf("sqlstore: cached rate-limit store needs a base store and a cache")
	}
	return &CachedRateLimitStateStore{base: base, cache: cache}, nil
}

// RateLimitStateCacheKey joins the normalized key segments, path-escaped,
// under the go-relay::ratelimit_state::v1 prefix.
func RateLimitStateCacheKey(key core.RateLimitKey) (string, error) {
	key, err := bucketKey(key)
	if err != nil {
		return "", err
	}
	return rateLimitCachePrefix +
		"::" + url.PathEscape(key.ProviderID) +
		"::" + url.PathEscape(key.AccountID) +
		"::" + url.PathEscape(key.BucketKey), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	cacheKey, err := RateLimitStateCacheKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (ratelimit.State, error) {
		return s.base.Get(ctx, ratelimit.NormalizeKey(key))
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	return detachState(state), nil
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	cacheKey, err := RateLimitStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, detachState(state)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

// detachState copies the pointer and map fields so callers cannot mutate a
// cached value.
func detachState(state ratelimit.State) ratelimit.State {
	state.Key = ratelimit.NormalizeKey(state.Key)
	state.Metadata = maps.Clone(state.Metadata)
	state.ResetAt = copyTimePointer(state.ResetAt)
	state.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
	if state.RetryAfter != nil {
		wait := *state.RetryAfter
		state.RetryAfter = &wait
	}
	return state
}

var _ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
