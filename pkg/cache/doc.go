// Package cache provides the upstream page store used by the paged data source.
//
// Pages are cached for the lifetime of a session and never evicted. Two
// backends implement Store:
//
//   - MemoryStore: in-process, backed by go-cache with no expiration (default)
//   - RedisStore: shared Redis backend, entries stored without TTL
//
// Both write every key under the store's namespace and Purge removes only
// that namespace on teardown. MemoryStore.WithNamespace scopes another view
// of the same in-process items.
//
// # Basic Usage
//
//	store := cache.NewMemoryStore()
//
//	key := cache.CacheKey{
//		BaseURL: "https://rickandmortyapi.com/api/character",
//		Page:    3,
//	}
//
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch upstream page 3, then
//		_ = store.Set(ctx, key, cache.NewEntry(page))
//	}
//
// # Redis Backend
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient, "session-42")
//	defer store.Purge(ctx)
//
// # Metrics
//
//   - pager_cache_hits_total{layer} - Cache hits by backend
//   - pager_cache_misses_total{layer} - Cache misses by backend
//   - pager_cache_entries{layer="memory"} - Upstream pages held in memory
//   - pager_cache_errors_total{operation} - Cache operation errors
package cache
