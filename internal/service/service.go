package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/city-weather/internal/cache"
	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/events"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/topics"
	"github.com/kjstillabower/city-weather/internal/traffic"
	"github.com/kjstillabower/city-weather/internal/validation"
)

// DefaultRefreshInterval is used by ScheduleCacheRefresh for non-positive intervals.
const DefaultRefreshInterval = 2 * time.Hour

// ErrSuperseded is returned when a newer city fetch started before this one
// finished; its results are dropped and no events are emitted.
var ErrSuperseded = errors.New("fetch superseded by a newer city selection")

// Config holds WeatherService tunables.
type Config struct {
	// StaleMaxAge bounds stale fallback; zero serves stale data of any age.
	StaleMaxAge   time.Duration
	CityMinLength int
	CityMaxLength int
	// Tracker receives fetch outcomes when set.
	Tracker *traffic.Tracker
	Now     cache.Clock
}

// WeatherService turns city selections into cached relay fetches and
// publishes the outcome on the bus.
type WeatherService struct {
	relay    client.RelayClient
	current  *Loader[models.CurrentWeather]
	forecast *Loader[models.Forecast]
	stores   [2]interface{ Flush(context.Context) error }
	deleters [2]func(ctx context.Context, city string) error
	bus      *events.Bus
	cfg      Config
	logger   *zap.Logger

	generation atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	stopped       bool
	unsubscribe   events.CancelFunc
	refreshes     map[uint64]context.CancelFunc
	nextRefreshID uint64
}

// NewWeatherService wires the relay client and the two per-kind stores to the bus.
// Call Start to begin reacting to CITY_SELECTED.
func NewWeatherService(
	relay client.RelayClient,
	currentStore cache.Store[models.CurrentWeather],
	forecastStore cache.Store[models.Forecast],
	bus *events.Bus,
	cfg Config,
	logger *zap.Logger,
) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &WeatherService{
		relay:     relay,
		current:   NewLoader(cache.KindCurrent, currentStore, cfg.StaleMaxAge, logger, cfg.Now),
		forecast:  NewLoader(cache.KindForecast, forecastStore, cfg.StaleMaxAge, logger, cfg.Now),
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		refreshes: make(map[uint64]context.CancelFunc),
	}
	s.stores = [2]interface{ Flush(context.Context) error }{currentStore, forecastStore}
	s.deleters = [2]func(context.Context, string) error{
		func(ctx context.Context, city string) error {
			return currentStore.Delete(ctx, cache.Key(cache.KindCurrent, city))
		},
		func(ctx context.Context, city string) error {
			return forecastStore.Delete(ctx, cache.Key(cache.KindForecast, city))
		},
	}
	return s
}

// Start subscribes to CITY_SELECTED. Each selection is fetched on its own
// goroutine so Emit never blocks on the relay.
func (s *WeatherService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.unsubscribe != nil {
		return
	}
	s.unsubscribe = events.Subscribe(s.bus, topics.CitySelected, func(city string) {
		s.goTracked(func() {
			ctx := observability.WithCorrelationID(s.ctx, uuid.NewString())
			_ = s.FetchWeatherForCity(ctx, city)
		})
	})
	s.logger.Info("weather service started")
}

// Stop unsubscribes from the bus, cancels refresh timers and in-flight
// fetches, and waits for them to return. It is safe to call more than once.
func (s *WeatherService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	for id, cancel := range s.refreshes {
		cancel()
		delete(s.refreshes, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("weather service stopped")
}

// goTracked runs fn on a goroutine that Stop waits for. It is a no-op once stopped.
func (s *WeatherService) goTracked(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// FetchWeatherForCity loads current weather and forecast for city in parallel
// and emits WEATHER_UPDATED then FORECAST_UPDATED, or a single WEATHER_ERROR.
// An invalid city returns a validation error without touching the network or
// the bus. If another fetch starts before this one finishes, the results are
// dropped and ErrSuperseded is returned.
func (s *WeatherService) FetchWeatherForCity(ctx context.Context, city string) error {
	name, err := validation.ValidateCity(city, s.cfg.CityMinLength, s.cfg.CityMaxLength)
	if err != nil {
		s.logger.Debug("city rejected", zap.String("city", city), zap.Error(err))
		return err
	}
	gen := s.generation.Add(1)
	if observability.CorrelationID(ctx) == "" {
		ctx = observability.WithCorrelationID(ctx, uuid.NewString())
	}
	logger := s.logger.With(
		zap.String("city", name),
		zap.String("correlation_id", observability.CorrelationID(ctx)),
	)
	start := time.Now()

	cur, fc, err := s.loadBoth(ctx, name)

	if s.generation.Load() != gen {
		observability.SupersededFetchesTotal.Inc()
		logger.Debug("discarding superseded fetch")
		return ErrSuperseded
	}
	if err != nil && ctx.Err() != nil {
		logger.Debug("fetch cancelled", zap.Error(err))
		return ctx.Err()
	}
	if err != nil {
		category := client.CategorizeError(err)
		logger.Warn("weather fetch failed", zap.String("category", string(category)), zap.Error(err))
		s.recordError()
		events.Emit(s.bus, topics.WeatherError, topics.ErrorPayload{
			City:     name,
			Message:  err.Error(),
			Category: string(category),
			Err:      err,
		})
		return err
	}

	stale := cur.Source == SourceStale || fc.Source == SourceStale
	s.recordSuccess(stale)
	logger.Debug("weather fetched",
		zap.String("current_source", string(cur.Source)),
		zap.String("forecast_source", string(fc.Source)),
		zap.Duration("duration", time.Since(start)),
	)
	events.Emit(s.bus, topics.WeatherUpdated, cur.Value)
	events.Emit(s.bus, topics.ForecastUpdated, fc.Value)
	return nil
}

// Prefetch fills both caches for city without emitting events.
func (s *WeatherService) Prefetch(ctx context.Context, city string) error {
	name, err := validation.ValidateCity(city, s.cfg.CityMinLength, s.cfg.CityMaxLength)
	if err != nil {
		return err
	}
	_, _, err = s.loadBoth(ctx, name)
	return err
}

// loadBoth runs both loaders concurrently and waits for both. A failure of
// one does not cancel the other.
func (s *WeatherService) loadBoth(ctx context.Context, city string) (Result[models.CurrentWeather], Result[models.Forecast], error) {
	var (
		g   errgroup.Group
		cur Result[models.CurrentWeather]
		fc  Result[models.Forecast]
	)
	g.Go(func() error {
		var err error
		cur, err = s.current.Load(ctx, cache.Key(cache.KindCurrent, city), func(ctx context.Context) (models.CurrentWeather, error) {
			return s.relay.CurrentWeather(ctx, city)
		})
		return err
	})
	g.Go(func() error {
		var err error
		fc, err = s.forecast.Load(ctx, cache.Key(cache.KindForecast, city), func(ctx context.Context) (models.Forecast, error) {
			return s.relay.Forecast(ctx, city)
		})
		return err
	})
	err := g.Wait()
	return cur, fc, err
}

func (s *WeatherService) recordSuccess(stale bool) {
	if s.cfg.Tracker == nil {
		return
	}
	if stale {
		s.cfg.Tracker.RecordStale()
		return
	}
	s.cfg.Tracker.RecordSuccess()
}

func (s *WeatherService) recordError() {
	if s.cfg.Tracker != nil {
		s.cfg.Tracker.RecordError()
	}
}
