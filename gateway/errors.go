package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNilClient     = errors.New("gateway: http client not set")
	ErrRetryableHTTP = errors.New("gateway: retryable upstream status")
)

// StatusError 上游返回非 2xx。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d %s", e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is one of 429/500/502/503/504.
func (e *StatusError) Retryable() bool {
	return retryableStatus(e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRetryableHTTP && e.Retryable()
}

// FetchError is returned once the attempt budget is spent, or as soon as a
// non-retryable failure is seen. Err is the last underlying cause.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
