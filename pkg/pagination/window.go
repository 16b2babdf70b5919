package pagination

import (
	"encoding/json"
	"strconv"
)

// Default window shape.
const (
	DefaultMaxButtons = 9
	DefaultRadius     = 2
)

// Label is one entry of a pagination control: a page number or an ellipsis.
type Label struct {
	Page     int
	Ellipsis bool
}

// Ellipsis is the marker for skipped pages.
var Ellipsis = Label{Ellipsis: true}

// String renders the label.
func (l Label) String() string {
	if l.Ellipsis {
		return "…"
	}
	return strconv.Itoa(l.Page)
}

// MarshalJSON encodes pages as numbers and the ellipsis as "...".
func (l Label) MarshalJSON() ([]byte, error) {
	if l.Ellipsis {
		return json.Marshal("...")
	}
	return json.Marshal(l.Page)
}

// WindowConfig shapes the window of page buttons.
type WindowConfig struct {
	// MaxButtons is the number of consecutive page buttons to aim for.
	MaxButtons int
	// Radius is the number of pages shown on each side of the current page.
	Radius int
}

// DefaultWindowConfig returns the default window shape.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxButtons: DefaultMaxButtons,
		Radius:     DefaultRadius,
	}
}

func (c WindowConfig) normalize() WindowConfig {
	if c.MaxButtons <= 0 {
		c.MaxButtons = DefaultMaxButtons
	}
	if c.Radius < 0 {
		c.Radius = DefaultRadius
	}
	return c
}

// Window returns the labels for a pagination control. current is clamped to
// [1, total]; total <= 0 yields no labels. The window starts as current±Radius,
// grows toward MaxButtons on whichever side has room, and is framed by
// [1, …] and […, total] when it does not reach the ends.
func Window(current, total int, cfg WindowConfig) []Label {
	if total <= 0 {
		return nil
	}
	cfg = cfg.normalize()
	current = clamp(current, 1, total)

	start := max(1, current-cfg.Radius)
	end := min(total, current+cfg.Radius)

	if span := end - start + 1; span < cfg.MaxButtons {
		deficit := cfg.MaxButtons - span
		start = max(1, start-deficit/2)
		end = min(total, start+cfg.MaxButtons-1)
		// still short near the last page: grow toward page 1
		start = max(1, end-cfg.MaxButtons+1)
	}

	labels := make([]Label, 0, end-start+5)
	if start > 1 {
		labels = append(labels, Label{Page: 1}, Ellipsis)
	}
	for p := start; p <= end; p++ {
		labels = append(labels, Label{Page: p})
	}
	if end < total {
		labels = append(labels, Ellipsis, Label{Page: total})
	}
	return labels
}

// Controls describes the first/prev/next/last buttons around a window.
type Controls struct {
	First    bool `json:"first"`
	Prev     bool `json:"prev"`
	Next     bool `json:"next"`
	Last     bool `json:"last"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
	LastPage int  `json:"last_page"`
}

// NewControls reports which navigation buttons are enabled on current of total.
func NewControls(current, total int) Controls {
	if total <= 0 {
		return Controls{}
	}
	current = clamp(current, 1, total)

	c := Controls{LastPage: total}
	if current > 1 {
		c.First, c.Prev = true, true
		c.PrevPage = current - 1
	}
	if current < total {
		c.Next, c.Last = true, true
		c.NextPage = current + 1
	}
	return c
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
