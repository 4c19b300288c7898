// Package scheduler runs cache warming for configured cities on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// DefaultInterval applies when the configured interval is not positive.
const DefaultInterval = 15 * time.Minute

// Warmer prefetches a list of cities into the cache.
type Warmer interface {
	Warm(ctx context.Context, cities []string) error
}

// Scheduler periodically warms the cache for a fixed city list.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	warmer     Warmer
	cities     []string
	interval   time.Duration
	runTimeout time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Each run is bounded by runTimeout (the interval when zero).
func New(warmer Warmer, cities []string, interval, runTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if runTimeout <= 0 {
		runTimeout = interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler:  s,
		warmer:     warmer,
		cities:     cities,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start schedules the warming job and starts the underlying scheduler. The
// first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.cities) == 0 {
		s.logger.Info("scheduler: no warm cities configured; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(s.run)
	if err != nil {
		return err
	}

	s.logger.Info("scheduler started",
		zap.Strings("cities", s.cities),
		zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()
	if err := s.warmer.Warm(ctx, s.cities); err != nil {
		s.logger.Warn("scheduler: warming finished with errors", zap.Error(err))
	}
}

// Stop cancels any in-flight run and all future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}
