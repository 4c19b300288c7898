package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/validation"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Retrier runs an operation up to MaxAttempts times, waiting
// BaseDelay * 2^i after the i-th failed attempt when another attempt remains.
// There is no jitter and no delay cap; the total wait is bounded by
// BaseDelay * (2^MaxAttempts - 1).
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// RetryClientErrors retries 4xx relay responses like any other failure.
	// NewRetrier enables it; turn it off to fail fast on unresolvable cities.
	RetryClientErrors bool
	Logger            *zap.Logger

	wait func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with defaults applied for non-positive values.
func NewRetrier(maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Retrier{
		MaxAttempts:       maxAttempts,
		BaseDelay:         baseDelay,
		RetryClientErrors: true,
		Logger:            logger,
	}
}

// Delay returns the wait after the attempt with zero-based index attempt.
func (r *Retrier) Delay(attempt int) time.Duration {
	return r.BaseDelay * time.Duration(int64(1)<<uint(attempt))
}

// Do calls fn until it succeeds, a non-retryable error occurs, ctx is done,
// or attempts run out. In the last case the final error is wrapped in
// *ExhaustedRetriesError.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := r.wait
	if wait == nil {
		wait = sleepCtx
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !r.retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := r.Delay(i)
		if r.Logger != nil {
			r.Logger.Debug("attempt failed, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
		if werr := wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry wait aborted: %w (last error: %v)", werr, err)
		}
	}
	return &ExhaustedRetriesError{Attempts: attempts, Err: err}
}

func (r *Retrier) retryable(err error) bool {
	if validation.IsValidationError(err) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) && upErr.ClientError() && !r.RetryClientErrors {
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
