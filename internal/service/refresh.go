package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/events"
	"github.com/kjstillabower/city-weather/internal/observability"
)

const (
	triggerManual    = "manual"
	triggerScheduled = "scheduled"
)

// InvalidateCache drops both cached kinds for city, or everything when city is
// blank. It never touches the network.
func (s *WeatherService) InvalidateCache(ctx context.Context, city string) error {
	return s.invalidate(ctx, city, triggerManual)
}

func (s *WeatherService) invalidate(ctx context.Context, city, trigger string) error {
	var errs []error
	if strings.TrimSpace(city) == "" {
		for _, st := range s.stores {
			errs = append(errs, st.Flush(ctx))
		}
		observability.CacheInvalidationsTotal.WithLabelValues("all", trigger).Inc()
	} else {
		for _, del := range s.deleters {
			errs = append(errs, del(ctx, city))
		}
		observability.CacheInvalidationsTotal.WithLabelValues("city", trigger).Inc()
	}
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("city", city), zap.String("trigger", trigger), zap.Error(err))
		return err
	}
	s.logger.Info("cache invalidated", zap.String("city", city), zap.String("trigger", trigger))
	return nil
}

// ScheduleCacheRefresh flushes the whole cache every interval until the
// returned cancel is called or the service stops. Cancelling stops future
// flushes only; fetches already running are unaffected. Cancel is idempotent.
func (s *WeatherService) ScheduleCacheRefresh(interval time.Duration) events.CancelFunc {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	id := s.nextRefreshID
	s.nextRefreshID++
	s.refreshes[id] = cancel
	s.mu.Unlock()

	started := s.goTracked(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				_ = s.invalidate(ctx, "", triggerScheduled)
			}
		}
	})
	if !started {
		cancel()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			s.mu.Lock()
			delete(s.refreshes, id)
			s.mu.Unlock()
		})
	}
}
