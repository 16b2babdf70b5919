package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies one cached upstream page.
type CacheKey struct {
	// Namespace scopes keys to one session or data source (empty for none)
	Namespace string

	// BaseURL is the collection endpoint the page belongs to
	BaseURL string

	// Page is the 1-based upstream page number
	Page int
}

// String generates a deterministic cache key string.
// Format: pager:namespace:host/path:query1=val1:page=N
//
// Example:
//
//	pager:s1:rickandmortyapi.com/api/character:status=alive:page=3
func (k CacheKey) String() string {
	parts := []string{"pager"}

	if k.Namespace != "" {
		parts = append(parts, k.Namespace)
	}

	u, err := url.Parse(k.BaseURL)
	if err != nil || u.Host == "" {
		if base := strings.Trim(k.BaseURL, "/"); base != "" {
			parts = append(parts, base)
		}
	} else {
		parts = append(parts, u.Host+strings.TrimRight(u.Path, "/"))

		// Add query params (sorted for determinism); page is always the key's own
		query := u.Query()
		query.Del("page")
		if len(query) > 0 {
			queryKeys := make([]string, 0, len(query))
			for key := range query {
				queryKeys = append(queryKeys, key)
			}
			sort.Strings(queryKeys)

			for _, key := range queryKeys {
				parts = append(parts, fmt.Sprintf("%s=%s", key, query.Get(key)))
			}
		}
	}

	parts = append(parts, fmt.Sprintf("page=%d", k.Page))

	return strings.Join(parts, ":")
}

// namespacePattern matches every key of a namespace in Redis SCAN syntax.
func namespacePattern(namespace string) string {
	if namespace == "" {
		return "pager:*"
	}
	return "pager:" + namespace + ":*"
}
