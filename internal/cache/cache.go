package cache

import (
	"context"
	"strings"
	"time"
)

// DefaultTTL is how long an entry stays valid after it is written.
const DefaultTTL = time.Hour

// Kind names one of the data kinds cached per city.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindForecast Kind = "forecast"
)

// Clock returns the current time. Stores default to time.Now.
type Clock func() time.Time

// Entry is a cached value with the time it was stored. Entries are replaced
// whole on every Put and never partially mutated.
type Entry[T any] struct {
	Value     T         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Age returns how long ago the entry was stored.
func (e Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Store maps keys to entries. Get returns expired entries too so callers can
// fall back to stale data; IsValid decides freshness lazily against the TTL.
type Store[T any] interface {
	Get(ctx context.Context, key string) (Entry[T], bool, error)
	IsValid(entry Entry[T]) bool
	Put(ctx context.Context, key string, value T) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// Key derives the cache key for a data kind and city. City names are trimmed
// and case-folded so "Nairobi" and "nairobi" share an entry.
func Key(kind Kind, city string) string {
	return string(kind) + "-" + NormalizeCity(city)
}

// NormalizeCity trims whitespace and lowercases a city name.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

func clockOrDefault(now Clock) Clock {
	if now == nil {
		return time.Now
	}
	return now
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func isFresh(ts time.Time, ttl time.Duration, now time.Time) bool {
	return now.Sub(ts) < ttl
}
