// Package transport delivers event batches to the ingestion backend over
// HTTP, with retries on transient failures and a circuit breaker that stops
// calling a backend that keeps failing. Nothing in this package panics;
// every failure is a returned value for the processor to log and absorb.
package transport

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned by Send when the circuit breaker is open and
// the batch was dropped without any network I/O.
var ErrCircuitOpen = errors.New("transport: circuit breaker open")

// Error represents an error response from the ingestion API with the HTTP
// status code and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Retryable reports whether the response indicates a transient condition.
// Server errors and rate limiting are retried; other client errors mean the
// batch itself is bad and retrying cannot help.
func (e *Error) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
