package core

import "fmt"

// HTTPError represents an HTTP error response from package.elm-lang.org's
// metadata endpoints. internal/elm wraps every non-nil error from this
// package uniformly into a FetchMetaFailed cause rather than branching on
// IsNotFound, so the distinction is informational, not load-bearing; it
// exists because a yanked or never-published version legitimately 404s
// here, which is worth telling apart from a transport failure in logs.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == 404
}

// RateLimitError is returned when the registry rate limits requests.
type RateLimitError struct {
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}
