// Package consumer projects weather events into a per-consumer WeatherState.
package consumer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/events"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/topics"
	"github.com/kjstillabower/city-weather/internal/validation"
)

// WeatherState is what a consumer renders. Current and Forecast keep the last
// good values across errors.
type WeatherState struct {
	City     string
	Current  *models.CurrentWeather
	Forecast *models.Forecast
	Loading  bool
	Err      error
}

// Refresher schedules periodic cache refresh and returns its cancel func.
type Refresher interface {
	ScheduleCacheRefresh(interval time.Duration) events.CancelFunc
}

// Adapter keeps a WeatherState in sync with the bus for one consumer.
type Adapter struct {
	bus    *events.Bus
	logger *zap.Logger

	cityMin, cityMax int

	mu    sync.RWMutex
	state WeatherState

	changed   chan struct{}
	cancels   []events.CancelFunc
	closeOnce sync.Once
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithCityLimits sets the rune-length bounds SelectCity enforces.
func WithCityLimits(minLen, maxLen int) Option {
	return func(a *Adapter) { a.cityMin, a.cityMax = minLen, maxLen }
}

// Mount subscribes to all four weather topics and, when refresher is non-nil,
// schedules a cache refresh every refreshInterval. Close undoes both.
func Mount(bus *events.Bus, refresher Refresher, refreshInterval time.Duration, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		bus:     bus,
		logger:  logger,
		changed: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cancels = append(a.cancels,
		events.Subscribe(bus, topics.CitySelected, a.onCitySelected),
		events.Subscribe(bus, topics.WeatherUpdated, a.onWeather),
		events.Subscribe(bus, topics.ForecastUpdated, a.onForecast),
		events.Subscribe(bus, topics.WeatherError, a.onError),
	)
	if refresher != nil {
		a.cancels = append(a.cancels, refresher.ScheduleCacheRefresh(refreshInterval))
	}
	return a
}

// SelectCity validates city and emits CITY_SELECTED. Invalid input returns a
// validation error and emits nothing.
func (a *Adapter) SelectCity(city string) error {
	name, err := validation.ValidateCity(city, a.cityMin, a.cityMax)
	if err != nil {
		return err
	}
	events.Emit(a.bus, topics.CitySelected, name)
	return nil
}

// Snapshot returns a copy of the current state.
func (a *Adapter) Snapshot() WeatherState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Changed signals after state mutations. Notifications coalesce: one pending
// signal may stand for several changes, so readers should call Snapshot.
func (a *Adapter) Changed() <-chan struct{} {
	return a.changed
}

// Close cancels every subscription and the refresh timer. Later calls are no-ops.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		for _, cancel := range a.cancels {
			cancel()
		}
		a.logger.Debug("consumer adapter closed")
	})
}

func (a *Adapter) onCitySelected(city string) {
	a.update(func(s *WeatherState) {
		s.City = city
		s.Loading = true
		s.Err = nil
	})
}

func (a *Adapter) onWeather(cw models.CurrentWeather) {
	a.update(func(s *WeatherState) {
		s.Current = &cw
		s.Loading = false
	})
}

func (a *Adapter) onForecast(fc models.Forecast) {
	a.update(func(s *WeatherState) {
		s.Forecast = &fc
		s.Loading = false
	})
}

func (a *Adapter) onError(p topics.ErrorPayload) {
	a.update(func(s *WeatherState) {
		s.Err = p
		s.Loading = false
	})
}

func (a *Adapter) update(fn func(*WeatherState)) {
	a.mu.Lock()
	fn(&a.state)
	a.mu.Unlock()
	select {
	case a.changed <- struct{}{}:
	default:
	}
}
