// Package topics names the weather topics carried on the event bus and their payload types.
package topics

import (
	"github.com/kjstillabower/city-weather/internal/events"
	"github.com/kjstillabower/city-weather/internal/models"
)

// ErrorPayload is the WEATHER_ERROR payload: a human-readable message plus the underlying error.
type ErrorPayload struct {
	City     string
	Message  string
	Category string
	Err      error
}

func (p ErrorPayload) Error() string {
	return p.Message
}

func (p ErrorPayload) Unwrap() error {
	return p.Err
}

var (
	CitySelected    = events.Topic[string]{Name: "CITY_SELECTED"}
	WeatherUpdated  = events.Topic[models.CurrentWeather]{Name: "WEATHER_UPDATED"}
	ForecastUpdated = events.Topic[models.Forecast]{Name: "FORECAST_UPDATED"}
	WeatherError    = events.Topic[ErrorPayload]{Name: "WEATHER_ERROR"}
)
