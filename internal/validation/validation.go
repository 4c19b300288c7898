package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrCityEmpty        = errors.New("city is required")
	ErrCityTooShort     = errors.New("city too short")
	ErrCityTooLong      = errors.New("city too long")
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// Error reports a city rejected before any network call. It is never retried
// and never reaches the cache.
type Error struct {
	City string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid city %q: %v", e.City, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is, or wraps, a *Error.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// ValidateCity trims the input, enforces length bounds in runes (zero disables a
// bound), and restricts to letters, digits, space, comma, period, apostrophe and
// hyphen. Returns the trimmed name; case folding is left to cache key derivation.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", &Error{City: input, Err: ErrCityEmpty}
	}
	if minLen > 0 && n < minLen {
		return "", &Error{City: input, Err: ErrCityTooShort}
	}
	if maxLen > 0 && n > maxLen {
		return "", &Error{City: input, Err: ErrCityTooLong}
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", &Error{City: input, Err: ErrCityInvalidChars}
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}
