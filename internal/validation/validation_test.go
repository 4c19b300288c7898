package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCity_EmptyAndWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"tab", "\t"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateCity(tc.input, 1, 100)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrCityEmpty) {
				t.Errorf("error = %v, want ErrCityEmpty", err)
			}
			if !IsValidationError(err) {
				t.Errorf("IsValidationError(%v) = false, want true", err)
			}
		})
	}
}

func TestValidateCity_TooShort(t *testing.T) {
	_, err := ValidateCity("x", 2, 100)
	if !errors.Is(err, ErrCityTooShort) {
		t.Errorf("error = %v, want ErrCityTooShort", err)
	}
}

func TestValidateCity_InvalidChars(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"slash", "nai/robi"},
		{"question", "nai?robi"},
		{"hash", "nai#robi"},
		{"control", "nai\x00robi"},
		{"percent", "nai%robi"},
		{"ampersand", "nai&robi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateCity(tc.input, 1, 100)
			if !errors.Is(err, ErrCityInvalidChars) {
				t.Errorf("error = %v, want ErrCityInvalidChars", err)
			}
		})
	}
}

func TestValidateCity_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Nairobi", "Nairobi"},
		{"with space", "New York", "New York"},
		{"comma", "London,uk", "London,uk"},
		{"hyphen", "Aix-en-Provence", "Aix-en-Provence"},
		{"apostrophe and period", "St. John's", "St. John's"},
		{"trimmed", "  Mombasa  ", "Mombasa"},
		{"unicode", "Zürich", "Zürich"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateCity(tc.input, 1, 100)
			if err != nil {
				t.Fatalf("ValidateCity() err = %v", err)
			}
			if got != tc.want {
				t.Errorf("ValidateCity() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateCity_LengthBoundaries(t *testing.T) {
	s100 := strings.Repeat("a", 100)
	if _, err := ValidateCity(s100, 1, 100); err != nil {
		t.Fatalf("max boundary: err = %v", err)
	}
	if _, err := ValidateCity(s100+"a", 1, 100); !errors.Is(err, ErrCityTooLong) {
		t.Errorf("over max: err = %v, want ErrCityTooLong", err)
	}
	if _, err := ValidateCity(s100+"a", 0, 0); err != nil {
		t.Errorf("bounds disabled: err = %v, want nil", err)
	}
}
