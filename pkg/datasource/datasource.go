// Package datasource translates display pages into slices of upstream pages,
// fetching and caching upstream pages on demand.
//
// A display page p of size D covers the item range [(p-1)*D, p*D). With an
// upstream page size U that is a multiple of D, that range lies inside upstream
// page ceil(p*D/U); otherwise it may straddle two upstream pages, which are
// stitched together. Flat upstreams (one unpaginated array) are a single
// upstream page holding the whole collection.
//
// Each upstream page is fetched at most once per DataSource: concurrent
// requests for the same uncached page share one in-flight fetch.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/pagedsource/pkg/cache"
	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/Sternrassler/pagedsource/pkg/logging"
	"github.com/Sternrassler/pagedsource/pkg/pagination"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Default page sizes.
const (
	DefaultDisplayPageSize  = 10
	DefaultUpstreamPageSize = 20
)

// Fetcher fetches one upstream page. *client.Client implements it.
type Fetcher interface {
	FetchPage(ctx context.Context, page int) (*client.Page, error)
}

// Config holds the data source configuration.
type Config struct {
	// DisplayPageSize is the number of items per display page (D)
	DisplayPageSize int

	// UpstreamPageSize is the number of items per upstream page (U); ignored when Flat
	UpstreamPageSize int

	// Flat marks an unpaginated upstream: one fetch returns the whole collection
	Flat bool

	// BaseURL identifies the collection in cache keys
	BaseURL string

	// Namespace scopes cache keys to this data source
	Namespace string

	// Batch configures Prefetch and LoadAll
	Batch pagination.Config
}

// DefaultConfig returns the configuration for a paginated upstream at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		DisplayPageSize:  DefaultDisplayPageSize,
		UpstreamPageSize: DefaultUpstreamPageSize,
		BaseURL:          baseURL,
		Batch:            pagination.DefaultConfig(),
	}
}

// Metadata describes the upstream collection.
type Metadata struct {
	TotalItems    int `json:"total_items"`
	UpstreamPages int `json:"upstream_pages"`
}

// DisplayPages returns ceil(TotalItems / pageSize).
func (m Metadata) DisplayPages(pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (m.TotalItems + pageSize - 1) / pageSize
}

// DataSource serves display pages from a lazily filled upstream page cache.
// It is safe for concurrent use.
type DataSource struct {
	fetcher Fetcher
	store   cache.Store
	config  Config
	logger  zerolog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	meta      Metadata
	metaKnown bool

	fetches atomic.Int64
}

// New creates a data source. A nil store defaults to a fresh MemoryStore
// scoped to cfg.Namespace.
func New(fetcher Fetcher, store cache.Store, cfg Config, logger zerolog.Logger) (*DataSource, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.DisplayPageSize <= 0 {
		return nil, fmt.Errorf("display page size must be > 0 (got %d)", cfg.DisplayPageSize)
	}
	if !cfg.Flat && cfg.UpstreamPageSize <= 0 {
		return nil, fmt.Errorf("upstream page size must be > 0 (got %d)", cfg.UpstreamPageSize)
	}
	if store == nil {
		store = cache.NewMemoryStore().WithNamespace(cfg.Namespace)
	}

	return &DataSource{
		fetcher: fetcher,
		store:   store,
		config:  cfg,
		logger:  logger.With().Str("component", logging.ComponentDataSource).Logger(),
	}, nil
}

// Metadata returns the collection metadata and whether it is known yet.
func (ds *DataSource) Metadata() (Metadata, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.meta, ds.metaKnown
}

// TotalDisplayPages returns the number of display pages, or 0 while the
// collection metadata is unknown.
func (ds *DataSource) TotalDisplayPages() int {
	meta, known := ds.Metadata()
	if !known {
		return 0
	}
	return meta.DisplayPages(ds.config.DisplayPageSize)
}

// DisplayPageSize returns D.
func (ds *DataSource) DisplayPageSize() int {
	return ds.config.DisplayPageSize
}

// FetchCount returns the number of upstream fetches issued so far.
func (ds *DataSource) FetchCount() int64 {
	return ds.fetches.Load()
}

// GetDisplayPage returns the items of display page p. p must be >= 1 and, once
// the metadata is known, <= TotalDisplayPages(); page 1 of an empty collection
// is an empty slice.
func (ds *DataSource) GetDisplayPage(ctx context.Context, p int) ([]client.Item, error) {
	meta, known := ds.Metadata()
	if !ds.inRange(p, meta, known) {
		displayPagesServed.WithLabelValues("out_of_range").Inc()
		return nil, fmt.Errorf("%w: page %d", ErrPageOutOfRange, p)
	}

	items := make([]client.Item, 0, ds.config.DisplayPageSize)
	for _, s := range ds.spans(p, meta, known) {
		entry, err := ds.upstreamPage(ctx, s.page)
		if err != nil {
			displayPagesServed.WithLabelValues("fetch_failure").Inc()
			return nil, err
		}
		from := min(max(s.from, 0), len(entry.Items))
		to := min(max(s.to, from), len(entry.Items))
		items = append(items, entry.Items[from:to]...)
	}

	if !known {
		// the first fetch may reveal that p lies past the end
		if meta, known = ds.Metadata(); known && !ds.inRange(p, meta, known) {
			displayPagesServed.WithLabelValues("out_of_range").Inc()
			return nil, fmt.Errorf("%w: page %d", ErrPageOutOfRange, p)
		}
	}

	displayPagesServed.WithLabelValues("ok").Inc()
	ds.logger.Debug().
		Int("display_page", p).
		Int("items", len(items)).
		Msg("Served display page")

	return items, nil
}

// Prefetch warms the cache for the upstream pages backing displayPages.
func (ds *DataSource) Prefetch(ctx context.Context, displayPages ...int) error {
	meta, known := ds.Metadata()

	var upstream []int
	for _, p := range displayPages {
		if !ds.inRange(p, meta, known) {
			return fmt.Errorf("%w: page %d", ErrPageOutOfRange, p)
		}
		for _, s := range ds.spans(p, meta, known) {
			upstream = append(upstream, s.page)
		}
	}
	if len(upstream) == 0 {
		return nil
	}

	_, err := ds.batch().FetchPages(ctx, upstream)
	return err
}

// LoadAll returns the whole collection in upstream order, fetching every
// upstream page not cached yet.
func (ds *DataSource) LoadAll(ctx context.Context) ([]client.Item, error) {
	if _, err := ds.batch().FetchAllPages(ctx); err != nil {
		return nil, err
	}

	total := max(ds.TotalDisplayPages(), 1)
	all := make([]client.Item, 0, total*ds.config.DisplayPageSize)
	for p := 1; p <= total; p++ {
		items, err := ds.GetDisplayPage(ctx, p)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// Close discards the cache and the collection metadata.
func (ds *DataSource) Close(ctx context.Context) error {
	ds.mu.Lock()
	ds.meta = Metadata{}
	ds.metaKnown = false
	ds.mu.Unlock()

	if err := ds.store.Purge(ctx); err != nil {
		return fmt.Errorf("purge page cache: %w", err)
	}
	return nil
}

func (ds *DataSource) inRange(p int, meta Metadata, known bool) bool {
	// item offsets of p, plus one upstream page, must fit in an int
	if p < 1 || p > (math.MaxInt-max(ds.config.DisplayPageSize, ds.config.UpstreamPageSize))/ds.config.DisplayPageSize {
		return false
	}
	if !known {
		return true
	}
	return p <= max(meta.DisplayPages(ds.config.DisplayPageSize), 1)
}

// span is the part [from, to) of one upstream page that belongs to a display page.
type span struct {
	page     int
	from, to int
}

// spans maps display page p onto upstream pages.
func (ds *DataSource) spans(p int, meta Metadata, known bool) []span {
	first := (p - 1) * ds.config.DisplayPageSize
	last := first + ds.config.DisplayPageSize
	if known {
		last = min(last, meta.TotalItems)
	}

	if ds.config.Flat {
		return []span{{page: 1, from: first, to: max(first, last)}}
	}

	u := ds.config.UpstreamPageSize
	var out []span
	for start := first; start < last; {
		page := start/u + 1
		if known && page > meta.UpstreamPages {
			break
		}
		offset := (page - 1) * u
		end := min(last, offset+u)
		out = append(out, span{page: page, from: start - offset, to: end - offset})
		start = end
	}
	return out
}

// upstreamPage returns the cached entry for an upstream page, fetching it on a
// miss. Concurrent misses for the same page share one fetch; a caller whose
// context ends stops waiting while the shared fetch completes for the others.
func (ds *DataSource) upstreamPage(ctx context.Context, page int) (*cache.Entry, error) {
	if entry, ok := ds.cached(ctx, page); ok {
		return entry, nil
	}

	// set only by the caller whose function runs the flight
	var leader atomic.Bool
	ch := ds.group.DoChan(strconv.Itoa(page), func() (interface{}, error) {
		leader.Store(true)
		// outlives the caller that started it
		fctx := context.WithoutCancel(ctx)
		if entry, ok := ds.cached(fctx, page); ok {
			return entry, nil
		}
		return ds.fetchAndStore(fctx, page)
	})

	select {
	case res := <-ch:
		if res.Shared && !leader.Load() {
			coalescedFetches.Inc()
			ds.logger.Debug().Int("upstream_page", page).Msg("Shared in-flight upstream fetch")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cache.Entry), nil
	case <-ctx.Done():
		return nil, &FetchFailure{UpstreamPage: page, Err: ctx.Err()}
	}
}

// cached looks the page up in the store. Store errors count as misses.
func (ds *DataSource) cached(ctx context.Context, page int) (*cache.Entry, bool) {
	entry, err := ds.store.Get(ctx, ds.key(page))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			ds.logger.Warn().Err(err).Int("upstream_page", page).Msg("Cache get error")
		}
		return nil, false
	}

	ds.captureMetadata(entry.Info())
	ds.logger.Debug().
		Int("upstream_page", page).
		Bool("cache_hit", true).
		Msg("Upstream page served from cache")
	return entry, true
}

func (ds *DataSource) fetchAndStore(ctx context.Context, page int) (*cache.Entry, error) {
	start := time.Now()
	ds.fetches.Add(1)
	upstreamFetches.Inc()

	fetched, err := ds.fetcher.FetchPage(ctx, page)
	if err != nil {
		ds.logger.Error().
			Err(err).
			Int("upstream_page", page).
			Str("error_class", string(client.ClassOf(err))).
			Msg("Upstream page fetch failed")
		return nil, &FetchFailure{UpstreamPage: page, Err: err}
	}

	entry := cache.NewEntry(fetched)
	if err := ds.store.Set(ctx, ds.key(page), entry); err != nil {
		ds.logger.Warn().Err(err).Int("upstream_page", page).Msg("Failed to cache upstream page")
	}
	ds.captureMetadata(entry.Info())

	ds.logger.Info().
		Int("upstream_page", page).
		Int("items", len(entry.Items)).
		Bool("cache_hit", false).
		Dur("duration", time.Since(start)).
		Msg("Fetched upstream page")

	return entry, nil
}

// captureMetadata records the collection metadata the first time it is seen.
func (ds *DataSource) captureMetadata(info client.Info) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.metaKnown {
		return
	}
	ds.meta = Metadata{TotalItems: info.Count, UpstreamPages: info.Pages}
	ds.metaKnown = true

	ds.logger.Info().
		Int("total_items", info.Count).
		Int("upstream_pages", info.Pages).
		Int("display_pages", ds.meta.DisplayPages(ds.config.DisplayPageSize)).
		Msg("Collection metadata captured")
}

func (ds *DataSource) key(page int) cache.CacheKey {
	return cache.CacheKey{
		Namespace: ds.config.Namespace,
		BaseURL:   ds.config.BaseURL,
		Page:      page,
	}
}

func (ds *DataSource) batch() *pagination.BatchFetcher {
	return pagination.NewBatchFetcher(cachedFetcher{ds}, ds.config.Batch)
}

// cachedFetcher routes batch fetches through the cache and coalescing path.
type cachedFetcher struct {
	ds *DataSource
}

func (f cachedFetcher) FetchPage(ctx context.Context, page int) (*client.Page, error) {
	entry, err := f.ds.upstreamPage(ctx, page)
	if err != nil {
		return nil, err
	}
	return &client.Page{Number: page, Items: entry.Items, Info: entry.Info()}, nil
}
