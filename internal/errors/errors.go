// Package errors provides structured error types shared by the daemon and its client.
package errors

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("operation timed out")
	ErrUnavailable  = errors.New("daemon unavailable")
)

// APIError is a non-2xx answer from the daemon's HTTP API.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status %d: %s: %v", e.Endpoint, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(endpoint string, statusCode int, message string) *APIError {
	return &APIError{Endpoint: endpoint, StatusCode: statusCode, Message: message}
}

// IsNotFound reports whether err means the requested entity does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		return true
	}
	return errors.Is(err, ErrNotFound)
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// A refused connection counts: the daemon may still be starting.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
