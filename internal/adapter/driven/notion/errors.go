package notion

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	StatusCode int
	Code       string // Notion error code, e.g. "unauthorized", "object_not_found".
	Message    string
	RetryAfter time.Duration // Parsed Retry-After hint; zero if absent.
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion: status=%d: %s", e.StatusCode, e.Message)
}

// Is maps the response onto the driven port's error classes so callers can
// use errors.Is(err, driven.ErrUnauthorized) without importing this package.
func (e *APIError) Is(target error) bool {
	switch target {
	case driven.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case driven.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case driven.ErrTransport:
		return e.Retryable()
	}
	return false
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// transportError wraps a network-level failure as driven.ErrTransport.
func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(driven.ErrTransport, err))
}
