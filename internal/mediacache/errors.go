package mediacache

import "errors"

var (
	// ErrEmptyURL indicates a resolve request without a source url.
	ErrEmptyURL = errors.New("url is required")
	// ErrBadDataURL indicates a data url that could not be parsed or decoded.
	ErrBadDataURL = errors.New("malformed data url")
	// ErrFetcherUnavailable indicates no fetcher is configured for remote urls.
	ErrFetcherUnavailable = errors.New("fetcher unavailable")
)
