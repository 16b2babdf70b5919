package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns a polite default configuration for public APIs
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single upstream page
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (*client.Page, error)
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches page 1 to learn the page count, then every remaining
// page in parallel. Returns map of pageNumber -> page.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context) (map[int]*client.Page, error) {
	first, err := bf.fetchOne(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	totalPages := first.Info.Pages
	if totalPages <= 1 {
		return map[int]*client.Page{1: first}, nil
	}

	rest := make([]int, 0, totalPages-1)
	for page := 2; page <= totalPages; page++ {
		rest = append(rest, page)
	}

	results, err := bf.FetchPages(ctx, rest)
	if results != nil {
		results[1] = first
	}
	return results, err
}

// FetchPages fetches the given pages in parallel. The first failure cancels
// the remaining fetches and is returned together with the pages fetched so far.
func (bf *BatchFetcher) FetchPages(ctx context.Context, pages []int) (map[int]*client.Page, error) {
	start := time.Now()
	pages = uniquePages(pages)

	results := make(map[int]*client.Page, len(pages))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for _, page := range pages {
		g.Go(func() error {
			p, err := bf.fetchOne(gctx, page)
			if err != nil {
				log.Warn().
					Err(err).
					Int("upstream_page", page).
					Msg("Page fetch failed")
				return err
			}

			mu.Lock()
			results[page] = p
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().
			Err(err).
			Int("fetched_pages", len(results)).
			Int("requested_pages", len(pages)).
			Msg("Batch fetch failed - returning partial results")
		return results, fmt.Errorf("batch fetch (partial data: %d/%d pages): %w", len(results), len(pages), err)
	}

	log.Debug().
		Int("pages", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, nil
}

func (bf *BatchFetcher) fetchOne(ctx context.Context, page int) (*client.Page, error) {
	pageCtx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()
	return bf.fetcher.FetchPage(pageCtx, page)
}

func uniquePages(pages []int) []int {
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
