package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/observability"
)

// CityPrefetcher is implemented by the service layer to fill both caches for a city.
// Used by Warmer to avoid a circular dependency on the service package.
type CityPrefetcher interface {
	Prefetch(ctx context.Context, city string) error
}

// Warmer prefetches weather for a fixed list of cities so the first
// selection of a popular city is served from cache.
type Warmer struct {
	prefetcher CityPrefetcher
	logger     *zap.Logger
}

func NewWarmer(prefetcher CityPrefetcher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{prefetcher: prefetcher, logger: logger}
}

// Warm prefetches every city concurrently. Failures for individual cities do
// not stop the others; they are joined into the returned error.
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(cities))
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if err := w.prefetcher.Prefetch(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", city, err)
			}
		}(city)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDuration.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}
