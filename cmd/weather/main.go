package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather/internal/cache"
	"github.com/kjstillabower/city-weather/internal/client"
	"github.com/kjstillabower/city-weather/internal/config"
	"github.com/kjstillabower/city-weather/internal/consumer"
	"github.com/kjstillabower/city-weather/internal/events"
	httphandler "github.com/kjstillabower/city-weather/internal/http"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/scheduler"
	"github.com/kjstillabower/city-weather/internal/service"
	"github.com/kjstillabower/city-weather/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	retrier := client.NewRetrier(cfg.RetryMaxAttempts, cfg.RetryBaseDelay, logger)
	retrier.RetryClientErrors = cfg.RetryClientErrors

	relayOpts := []client.Option{client.WithLogger(logger)}
	var breaker *gobreaker.CircuitBreaker
	if cfg.BreakerEnabled {
		breaker = client.NewCircuitBreaker("relay", cfg.BreakerFailures, cfg.BreakerOpenDuration, logger)
		relayOpts = append(relayOpts, client.WithCircuitBreaker(breaker))
		logger.Info("circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.BreakerFailures),
			zap.Duration("timeout", cfg.BreakerOpenDuration))
	}
	if cfg.RelayRateLimitRPS > 0 {
		relayOpts = append(relayOpts, client.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RelayRateLimitRPS), 1)))
	}
	relay, err := client.NewHTTPRelayClient(cfg.RelayURL, cfg.RelayTimeout, retrier, relayOpts...)
	if err != nil {
		logger.Fatal("relay client", zap.Error(err))
	}

	var (
		currentStore  cache.Store[models.CurrentWeather]
		forecastStore cache.Store[models.Forecast]
		mc            *memcache.Client
		db            *sql.DB
	)
	switch cfg.CacheBackend {
	case "memcached":
		mc = cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached unreachable at startup; lookups will miss until it recovers", zap.Error(err))
		}
		var retention time.Duration
		if cfg.StaleMaxAge > 0 {
			retention = cfg.CacheTTL + cfg.StaleMaxAge
		}
		currentStore = cache.NewMemcachedStore[models.CurrentWeather](mc, string(cache.KindCurrent), cfg.CacheTTL, retention, nil)
		forecastStore = cache.NewMemcachedStore[models.Forecast](mc, string(cache.KindForecast), cfg.CacheTTL, retention, nil)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "sqlite":
		db, err = cache.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite cache", zap.Error(err))
		}
		currentStore = cache.NewSQLiteStore[models.CurrentWeather](db, string(cache.KindCurrent), cfg.CacheTTL, nil)
		forecastStore = cache.NewSQLiteStore[models.Forecast](db, string(cache.KindForecast), cfg.CacheTTL, nil)
		logger.Info("cache backend: sqlite", zap.String("path", cfg.SQLitePath))
	default:
		currentStore = cache.NewMemoryStore[models.CurrentWeather](cfg.CacheTTL, nil)
		forecastStore = cache.NewMemoryStore[models.Forecast](cfg.CacheTTL, nil)
		logger.Info("cache backend: in_memory")
	}

	bus := events.NewBus(logger)
	tracker := traffic.NewTracker(nil)
	weatherService := service.NewWeatherService(relay, currentStore, forecastStore, bus, service.Config{
		StaleMaxAge:   cfg.StaleMaxAge,
		CityMinLength: cfg.CityMinLength,
		CityMaxLength: cfg.CityMaxLength,
		Tracker:       tracker,
	}, logger)
	weatherService.Start()

	adapter := consumer.Mount(bus, weatherService, cfg.RefreshInterval, logger,
		consumer.WithCityLimits(cfg.CityMinLength, cfg.CityMaxLength))

	var warmScheduler *scheduler.Scheduler
	if len(cfg.WarmCities) > 0 {
		warmer := cache.NewWarmer(weatherService, logger)
		warmScheduler = scheduler.New(warmer, cfg.WarmCities, cfg.WarmInterval, 30*time.Second, logger)
		if err := warmScheduler.Start(); err != nil {
			logger.Error("cache warming scheduler", zap.Error(err))
		}
	}

	if cfg.DefaultCity != "" {
		if err := adapter.SelectCity(cfg.DefaultCity); err != nil {
			logger.Warn("default city rejected", zap.String("city", cfg.DefaultCity), zap.Error(err))
		}
	}

	healthConfig := &httphandler.HealthConfig{
		Tracker:          tracker,
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: float64(cfg.DegradedErrorPct),
		OverloadDenials:  cfg.OverloadDenials,
	}
	switch {
	case mc != nil:
		healthConfig.CachePing = mc.Ping
	case db != nil:
		healthConfig.CachePing = db.Ping
	}
	if breaker != nil {
		healthConfig.BreakerState = func() string { return breaker.State().String() }
	}

	handler := httphandler.NewHandler(adapter, weatherService, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Tracker:        tracker,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if warmScheduler != nil {
		warmScheduler.Stop()
	}
	adapter.Close()
	weatherService.Stop()

	if mc != nil {
		if err := mc.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("sqlite close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
