package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/city-weather/internal/cache"
	"github.com/kjstillabower/city-weather/internal/observability"
)

// Source says where a loaded value came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceRelay Source = "relay"
	SourceStale Source = "stale"
)

// Result is a loaded value with its provenance. Age is zero for relay results.
type Result[T any] struct {
	Value  T
	Source Source
	Age    time.Duration
}

// Loader implements get-or-fetch with stale fallback over one cache store.
// Concurrent misses for the same key share a single fetch. The shared fetch is
// cancelled only once every caller waiting on it has gone away.
type Loader[T any] struct {
	kind        cache.Kind
	store       cache.Store[T]
	group       singleflight.Group
	flightsMu   sync.Mutex
	flights     map[string]*flight
	staleMaxAge time.Duration
	logger      *zap.Logger
	now         cache.Clock
}

// NewLoader creates a Loader. staleMaxAge of zero serves stale entries of any
// age when the relay fails; a positive value refuses entries older than it.
func NewLoader[T any](kind cache.Kind, store cache.Store[T], staleMaxAge time.Duration, logger *zap.Logger, now cache.Clock) *Loader[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Loader[T]{
		kind:        kind,
		store:       store,
		staleMaxAge: staleMaxAge,
		logger:      logger,
		now:         now,
		flights:     make(map[string]*flight),
	}
}

// flight is the context shared by every caller waiting on one key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers ctx as a waiter on key. The flight context keeps ctx's values
// (correlation ID) but not its cancellation.
func (l *Loader[T]) join(ctx context.Context, key string) *flight {
	l.flightsMu.Lock()
	defer l.flightsMu.Unlock()
	f, ok := l.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		l.flights[key] = f
	}
	f.waiters++
	return f
}

func (l *Loader[T]) leave(key string, f *flight) {
	l.flightsMu.Lock()
	defer l.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if l.flights[key] == f {
		delete(l.flights, key)
	}
}

// GetOrFetch returns the cached value for key when it is still valid.
// Otherwise it calls fetch and caches the result. If fetch fails and any entry
// exists for key, the entry is returned and the error suppressed; with no
// entry the fetch error is returned.
func (l *Loader[T]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	r, err := l.Load(ctx, key, fetch)
	return r.Value, err
}

// Load is GetOrFetch reporting where the value came from.
func (l *Loader[T]) Load(ctx context.Context, key string, fetch func(ctx context.Context) (T, error)) (Result[T], error) {
	kind := string(l.kind)
	entry, found, err := l.store.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues(kind, "get").Inc()
		l.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		found = false
	}
	if found && l.store.IsValid(entry) {
		observability.CacheLookupsTotal.WithLabelValues(kind, "hit").Inc()
		return Result[T]{Value: entry.Value, Source: SourceCache, Age: entry.Age(l.now())}, nil
	}
	if found {
		observability.CacheLookupsTotal.WithLabelValues(kind, "expired").Inc()
	} else {
		observability.CacheLookupsTotal.WithLabelValues(kind, "miss").Inc()
	}

	f := l.join(ctx, key)
	ch := l.group.DoChan(key, func() (interface{}, error) {
		val, err := fetch(f.ctx)
		if err != nil {
			return val, err
		}
		if err := l.store.Put(f.ctx, key, val); err != nil {
			observability.CacheErrorsTotal.WithLabelValues(kind, "put").Inc()
			l.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
		}
		return val, nil
	})
	var fetchErr error
	select {
	case res := <-ch:
		l.leave(key, f)
		if res.Err == nil {
			return Result[T]{Value: res.Val.(T), Source: SourceRelay}, nil
		}
		fetchErr = res.Err
	case <-ctx.Done():
		l.leave(key, f)
		fetchErr = ctx.Err()
	}

	if !found {
		var zero Result[T]
		return zero, fetchErr
	}
	age := entry.Age(l.now())
	if l.staleMaxAge > 0 && age > l.staleMaxAge {
		l.logger.Warn("stale entry too old to serve",
			zap.String("key", key),
			zap.Duration("age", age),
			zap.Duration("stale_max_age", l.staleMaxAge),
		)
		var zero Result[T]
		return zero, fmt.Errorf("cached %s is %s old, beyond %s: %w", key, age.Round(time.Second), l.staleMaxAge, fetchErr)
	}
	observability.StaleServesTotal.WithLabelValues(kind).Inc()
	observability.StaleAgeSeconds.Observe(age.Seconds())
	l.logger.Info("serving stale cache", zap.String("key", key), zap.Duration("age", age), zap.Error(fetchErr))
	return Result[T]{Value: entry.Value, Source: SourceStale, Age: age}, nil
}
