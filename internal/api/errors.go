package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCanceled marks a request aborted by its caller. Caches and binders treat
// it as benign: no error state, no rollback.
var ErrCanceled = errors.New("api: request canceled")

// ErrorInfo is the error envelope returned by the backend.
type ErrorInfo struct {
	Message string `json:"message"`
}

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	// Message is a human-readable description of the failed operation.
	Message string
	// StatusCode is the HTTP status of the response.
	StatusCode int
	// Info is the decoded error envelope, nil when the body was not JSON.
	Info *ErrorInfo
	// Body is the raw response body when it is valid JSON.
	Body json.RawMessage
	// Text holds any other response body, e.g. a proxy's plain-text page.
	Text string
}

func (e *HTTPError) Error() string {
	if e.Info != nil && e.Info.Message != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Message, e.StatusCode, e.Info.Message)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// NetworkError wraps connection-level failures.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err is a caller cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// ErrorMessage returns the backend-provided message of err, or fallback
// when err carries none.
func ErrorMessage(err error, fallback string) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Info != nil && httpErr.Info.Message != "" {
		return httpErr.Info.Message
	}
	return fallback
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
