package steam

import (
	"errors"
	"fmt"
	"time"
)

// ErrAppUnavailable marks a detail fetch that can never succeed: the store
// page is gone, region-locked, or the payload is malformed. Callers record
// the ID as invalid instead of retrying.
var ErrAppUnavailable = errors.New("app detail unavailable")

// errMalformed marks a response body that did not decode as the expected
// JSON shape. Never retried; the detail path maps it to ErrAppUnavailable.
var errMalformed = errors.New("malformed response")

// RateLimitError reports an upstream 429. RetryAfter carries the server's
// hint when one was provided, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// StatusError reports an unexpected HTTP status from the upstream API.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Transient reports whether err is worth retrying: transport failures,
// rate limiting and server errors are, a permanently unavailable app is not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAppUnavailable) || errors.Is(err, errMalformed) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == 429 || status.Code >= 500
	}
	return true
}
