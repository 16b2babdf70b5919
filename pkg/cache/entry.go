package cache

import (
	"time"

	"github.com/Sternrassler/pagedsource/pkg/client"
)

// Entry is a cached upstream page together with the collection metadata the
// upstream reported alongside it.
type Entry struct {
	// Items are the upstream records in upstream order
	Items []client.Item `json:"items"`

	// Count is the total item count reported with this page
	Count int `json:"count"`

	// Pages is the total upstream page count reported with this page
	Pages int `json:"pages"`

	// FetchedAt is when the page was fetched from the upstream
	FetchedAt time.Time `json:"fetched_at"`
}

// NewEntry builds a cache entry from a fetched upstream page.
func NewEntry(page *client.Page) *Entry {
	return &Entry{
		Items:     page.Items,
		Count:     page.Info.Count,
		Pages:     page.Info.Pages,
		FetchedAt: time.Now(),
	}
}

// Info returns the collection metadata stored with the entry.
func (e *Entry) Info() client.Info {
	return client.Info{Count: e.Count, Pages: e.Pages}
}

// Age returns how long ago the page was fetched.
func (e *Entry) Age() time.Duration {
	return time.Since(e.FetchedAt)
}
