package cache

import (
	"context"
	"fmt"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

const layerMemory = "memory"

// MemoryStore is an in-process Store. Entries never expire and are lost with
// the process. Like RedisStore, every key is written under the store's
// namespace; stores obtained with WithNamespace share the same items.
type MemoryStore struct {
	items     *gocache.Cache
	namespace string
}

// NewMemoryStore creates an empty in-memory store without a namespace.
func NewMemoryStore() *MemoryStore {
	// cleanup interval 0 disables the janitor; nothing ever expires
	return &MemoryStore{
		items: gocache.New(gocache.NoExpiration, 0),
	}
}

// WithNamespace returns a store over the same items scoped to namespace.
func (m *MemoryStore) WithNamespace(namespace string) *MemoryStore {
	return &MemoryStore{items: m.items, namespace: namespace}
}

// Namespace returns the namespace all keys are written under.
func (m *MemoryStore) Namespace() string {
	return m.namespace
}

// scoped forces the key into the store's namespace.
func (m *MemoryStore) scoped(key CacheKey) string {
	key.Namespace = m.namespace
	return key.String()
}

// owns reports whether k belongs to the store's namespace. The empty
// namespace owns every key, as its Redis pattern does.
func (m *MemoryStore) owns(k string) bool {
	return strings.HasPrefix(k, strings.TrimSuffix(namespacePattern(m.namespace), "*"))
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist.
func (m *MemoryStore) Get(_ context.Context, key CacheKey) (*Entry, error) {
	v, ok := m.items.Get(m.scoped(key))
	if !ok {
		CacheMisses.WithLabelValues(layerMemory).Inc()
		return nil, ErrCacheMiss
	}

	entry, ok := v.(*Entry)
	if !ok {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: unexpected type %T", ErrInvalidEntry, v)
	}

	CacheHits.WithLabelValues(layerMemory).Inc()
	return entry, nil
}

// Set stores a cache entry without expiration.
func (m *MemoryStore) Set(_ context.Context, key CacheKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	m.items.Set(m.scoped(key), entry, gocache.NoExpiration)
	CacheEntries.WithLabelValues(layerMemory).Set(float64(m.items.ItemCount()))
	return nil
}

// Len counts the keys of the namespace.
func (m *MemoryStore) Len(_ context.Context) (int, error) {
	n := 0
	for k := range m.items.Items() {
		if m.owns(k) {
			n++
		}
	}
	return n, nil
}

// Purge deletes every key of the namespace.
func (m *MemoryStore) Purge(_ context.Context) error {
	for k := range m.items.Items() {
		if m.owns(k) {
			m.items.Delete(k)
		}
	}
	CacheEntries.WithLabelValues(layerMemory).Set(float64(m.items.ItemCount()))
	return nil
}
