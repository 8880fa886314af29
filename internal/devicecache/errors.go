package devicecache

import (
	"errors"
	"fmt"
)

// ErrNotCached indicates the url is in neither tier and no fetcher is set.
var ErrNotCached = errors.New("not cached")

// OversizeError rejects a payload above the per-item ceiling. It carries
// the remote url so callers can fall back to streaming from the source.
type OversizeError struct {
	URL  string
	Size int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("payload too large for cache (%d bytes): %s", e.Size, e.URL)
}
