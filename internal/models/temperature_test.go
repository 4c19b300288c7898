package models

import "testing"

func TestFormatTemperature(t *testing.T) {
	tests := []struct {
		name   string
		kelvin float64
		unit   TemperatureUnit
		want   string
	}{
		{"nairobi celsius", 299.15, Celsius, "26°C"},
		{"nairobi fahrenheit", 299.15, Fahrenheit, "79°F"},
		{"freezing", 273.15, Celsius, "0°C"},
		{"freezing fahrenheit", 273.15, Fahrenheit, "32°F"},
		{"below zero", 263.15, Celsius, "-10°C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatTemperature(tt.kelvin, tt.unit); got != tt.want {
				t.Errorf("FormatTemperature(%v, %s) = %q, want %q", tt.kelvin, tt.unit, got, tt.want)
			}
		})
	}
}

func TestParseTemperatureUnit(t *testing.T) {
	tests := []struct {
		in   string
		want TemperatureUnit
	}{
		{"", Celsius},
		{"celsius", Celsius},
		{"F", Fahrenheit},
		{" Fahrenheit ", Fahrenheit},
		{"kelvin", Celsius},
	}
	for _, tt := range tests {
		if got := ParseTemperatureUnit(tt.in); got != tt.want {
			t.Errorf("ParseTemperatureUnit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
