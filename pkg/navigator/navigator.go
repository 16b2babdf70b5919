// Package navigator keeps the current display page of a browsing session and
// the view committed for it.
//
// Requests may complete out of order. Each GoTo is tagged with a generation
// number and only the newest request commits its view; older ones return
// ErrSuperseded once they finish.
package navigator

import (
	"context"
	"errors"
	"sync"

	"github.com/Sternrassler/pagedsource/pkg/client"
	"github.com/Sternrassler/pagedsource/pkg/datasource"
	"github.com/Sternrassler/pagedsource/pkg/logging"
	"github.com/Sternrassler/pagedsource/pkg/pagination"
	"github.com/rs/zerolog"
)

// ErrSuperseded is returned by a request that completed after a newer one was issued.
var ErrSuperseded = errors.New("navigation superseded by a newer request")

// PageSource serves display pages. *datasource.DataSource implements it.
type PageSource interface {
	GetDisplayPage(ctx context.Context, p int) ([]client.Item, error)
	TotalDisplayPages() int
	Metadata() (datasource.Metadata, bool)
}

// Config holds the navigator configuration.
type Config struct {
	// Window configures the numbered buttons of each view
	Window pagination.WindowConfig
}

// DefaultConfig returns the default navigator configuration.
func DefaultConfig() Config {
	return Config{Window: pagination.DefaultWindowConfig()}
}

// View is everything needed to render one display page.
type View struct {
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
	TotalItems int                 `json:"total_items"`
	Items      []client.Item       `json:"items"`
	Window     []pagination.Label  `json:"window"`
	Controls   pagination.Controls `json:"controls"`
}

// Navigator tracks the current page over a PageSource. It is safe for
// concurrent use.
type Navigator struct {
	src    PageSource
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	current int
	view    *View
}

// New creates a navigator positioned on page 1 with no committed view.
func New(src PageSource, cfg Config) *Navigator {
	return &Navigator{
		src:     src,
		config:  cfg,
		logger:  logging.NewLogger(logging.ComponentNavigator),
		current: 1,
	}
}

// Current returns the page of the last committed view (1 before the first).
func (n *Navigator) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// View returns the last committed view, or nil before the first commit.
func (n *Navigator) View() *View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.view
}

// GoTo loads page p and commits it as the current view. p is clamped to the
// known page range. A failed load keeps the previous view.
func (n *Navigator) GoTo(ctx context.Context, p int) (*View, error) {
	p = n.clamp(p)

	n.mu.Lock()
	n.gen++
	gen := n.gen
	n.mu.Unlock()

	items, err := n.src.GetDisplayPage(ctx, p)
	if errors.Is(err, datasource.ErrPageOutOfRange) {
		// the first fetch revealed a shorter collection
		if clamped := n.clamp(p); clamped != p {
			p = clamped
			items, err = n.src.GetDisplayPage(ctx, p)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if gen != n.gen {
		n.logger.Debug().
			Int("display_page", p).
			Uint64("generation", gen).
			Msg("Discarded superseded navigation")
		return nil, ErrSuperseded
	}
	if err != nil {
		n.logger.Warn().Err(err).Int("display_page", p).Msg("Navigation failed")
		return nil, err
	}

	view := BuildView(n.src, p, items, n.config.Window)
	n.current = p
	n.view = view
	return view, nil
}

// First goes to page 1.
func (n *Navigator) First(ctx context.Context) (*View, error) {
	return n.GoTo(ctx, 1)
}

// Prev goes to the page before the current one.
func (n *Navigator) Prev(ctx context.Context) (*View, error) {
	return n.GoTo(ctx, n.Current()-1)
}

// Next goes to the page after the current one.
func (n *Navigator) Next(ctx context.Context) (*View, error) {
	return n.GoTo(ctx, n.Current()+1)
}

// Last goes to the last page, loading page 1 first if the total is unknown.
func (n *Navigator) Last(ctx context.Context) (*View, error) {
	if _, known := n.src.Metadata(); !known {
		if _, err := n.src.GetDisplayPage(ctx, 1); err != nil {
			return nil, err
		}
	}
	return n.GoTo(ctx, n.src.TotalDisplayPages())
}

func (n *Navigator) clamp(p int) int {
	if total := n.src.TotalDisplayPages(); total > 0 && p > total {
		p = total
	}
	return max(p, 1)
}

// BuildView assembles the view of display page p from its items and the
// totals currently known to src.
func BuildView(src PageSource, p int, items []client.Item, window pagination.WindowConfig) *View {
	meta, _ := src.Metadata()
	total := src.TotalDisplayPages()
	return &View{
		Page:       p,
		TotalPages: total,
		TotalItems: meta.TotalItems,
		Items:      items,
		Window:     pagination.Window(p, total, window),
		Controls:   pagination.NewControls(p, total),
	}
}
