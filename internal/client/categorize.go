package client

import (
	"context"
	"errors"
	"net"

	"github.com/kjstillabower/city-weather/internal/validation"
)

// ErrorCategory is a stable label for error classification in metrics and
// WEATHER_ERROR payloads.
type ErrorCategory string

const (
	ErrorCategoryValidation  ErrorCategory = "validation"
	ErrorCategoryUpstream4xx ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx ErrorCategory = "upstream_5xx"
	ErrorCategoryTransport   ErrorCategory = "transport"
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryExhausted   ErrorCategory = "exhausted"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryDecode      ErrorCategory = "decode"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. An exhausted retry
// is categorized by its last attempt's error when that is recognizable, so
// "city not found after 3 attempts" still reads as upstream_4xx.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if validation.IsValidationError(err) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, ErrCircuitOpen) {
		return ErrorCategoryCircuitOpen
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		if upErr.ClientError() {
			return ErrorCategoryUpstream4xx
		}
		return ErrorCategoryUpstream5xx
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrDecode) {
		return ErrorCategoryDecode
	}
	var trErr *TransportError
	if errors.As(err, &trErr) {
		return ErrorCategoryTransport
	}
	var exErr *ExhaustedRetriesError
	if errors.As(err, &exErr) {
		return ErrorCategoryExhausted
	}
	return ErrorCategoryUnknown
}
