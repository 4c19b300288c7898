package client

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned while the relay circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("relay circuit breaker open")
	// ErrDecode wraps malformed relay response bodies.
	ErrDecode = errors.New("decode relay response")
)

// UpstreamError is a non-2xx response from the relay.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("relay %s: HTTP %d", e.Endpoint, e.StatusCode)
}

// ClientError reports whether the relay rejected the request itself (4xx),
// typically because the city could not be resolved.
func (e *UpstreamError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// TransportError is a failure to reach the relay at all.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExhaustedRetriesError is returned after the last allowed attempt failed.
// It wraps that attempt's error.
type ExhaustedRetriesError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Err }
