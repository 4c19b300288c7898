package models

import (
	"fmt"
	"math"
	"strings"
)

// TemperatureUnit selects the display unit for Kelvin readings.
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "celsius"
	Fahrenheit TemperatureUnit = "fahrenheit"
)

// ParseTemperatureUnit maps user input to a unit, defaulting to Celsius.
func ParseTemperatureUnit(s string) TemperatureUnit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f", "fahrenheit":
		return Fahrenheit
	default:
		return Celsius
	}
}

func KelvinToCelsius(k float64) float64 {
	return k - 273.15
}

func KelvinToFahrenheit(k float64) float64 {
	return (k-273.15)*9/5 + 32
}

// FormatTemperature converts a Kelvin reading and renders it rounded with the unit symbol, e.g. "26°C".
func FormatTemperature(kelvin float64, unit TemperatureUnit) string {
	if unit == Fahrenheit {
		return fmt.Sprintf("%d°F", int(math.Round(KelvinToFahrenheit(kelvin))))
	}
	return fmt.Sprintf("%d°C", int(math.Round(KelvinToCelsius(kelvin))))
}
