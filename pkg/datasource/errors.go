package datasource

import (
	"errors"
	"fmt"
)

// ErrPageOutOfRange is returned for display pages below 1 or past the last
// known page. It is a caller error: callers clamp before asking.
var ErrPageOutOfRange = errors.New("display page out of range")

// FetchFailure reports a failed upstream fetch. The cache and the collection
// metadata are left untouched for the failed page.
type FetchFailure struct {
	// UpstreamPage is the 1-based upstream page that could not be fetched
	UpstreamPage int
	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (f *FetchFailure) Error() string {
	return fmt.Sprintf("fetch upstream page %d: %v", f.UpstreamPage, f.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *FetchFailure) Unwrap() error {
	return f.Err
}
