// Package pagination computes page-button windows for display pages and
// fetches sets of upstream pages in parallel.
//
// Window renders the labels a pagination control shows:
//
//	labels := pagination.Window(10, 83, pagination.DefaultWindowConfig())
//	// 1 … 6 7 8 9 10 11 12 13 14 … 83
//
// BatchFetcher warms many upstream pages with bounded concurrency:
//
//	bf := pagination.NewBatchFetcher(fetcher, pagination.DefaultConfig())
//	pages, err := bf.FetchAllPages(ctx)
//
// The batch fetcher:
//   - Fetches the first page to learn the total page count
//   - Runs the remaining pages on an errgroup limited to MaxConcurrency
//   - Applies a per-page timeout
//   - Cancels outstanding pages on the first failure
package pagination
