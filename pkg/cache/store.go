package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested page was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store holds fetched upstream pages for the lifetime of a session.
// Implementations never evict on their own.
type Store interface {
	// Get returns the entry for key, or ErrCacheMiss.
	Get(ctx context.Context, key CacheKey) (*Entry, error)

	// Set stores the entry for key, replacing any previous entry.
	Set(ctx context.Context, key CacheKey, entry *Entry) error

	// Len returns the number of cached pages.
	Len(ctx context.Context) (int, error)

	// Purge removes every cached page.
	Purge(ctx context.Context) error
}
