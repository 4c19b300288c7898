package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather/internal/cache"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingFetch returns a fetch func yielding val/err and counting calls.
func countingFetch(calls *int32, val string, err error) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return val, err
	}
}

func newTestLoader(clock *testClock, staleMaxAge time.Duration) (*Loader[string], *cache.MemoryStore[string]) {
	store := cache.NewMemoryStore[string](time.Hour, clock.Now)
	return NewLoader[string](cache.KindCurrent, store, staleMaxAge, nil, clock.Now), store
}

// TestLoader_CacheHit verifies a valid entry is returned without fetching.
func TestLoader_CacheHit(t *testing.T) {
	clock := newTestClock()
	l, store := newTestLoader(clock, 0)
	ctx := context.Background()
	_ = store.Put(ctx, "current-nairobi", "cached")
	clock.Advance(59 * time.Minute)

	var calls int32
	got, err := l.GetOrFetch(ctx, "current-nairobi", countingFetch(&calls, "fresh", nil))
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if got != "cached" || calls != 0 {
		t.Errorf("GetOrFetch() = %q with %d fetches, want cached with 0", got, calls)
	}
}

// TestLoader_MissFetchesAndStores verifies a miss fetches once and a second
// call is served from cache.
func TestLoader_MissFetchesAndStores(t *testing.T) {
	clock := newTestClock()
	l, store := newTestLoader(clock, 0)
	ctx := context.Background()

	var calls int32
	for i := 0; i < 2; i++ {
		got, err := l.GetOrFetch(ctx, "current-nairobi", countingFetch(&calls, "fresh", nil))
		if err != nil || got != "fresh" {
			t.Fatalf("GetOrFetch() = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
	if store.Len() != 1 {
		t.Errorf("store Len() = %d, want 1", store.Len())
	}
}

// TestLoader_ExpiredRefetches verifies an entry at TTL age triggers a fetch.
func TestLoader_ExpiredRefetches(t *testing.T) {
	clock := newTestClock()
	l, store := newTestLoader(clock, 0)
	ctx := context.Background()
	_ = store.Put(ctx, "k", "old")
	clock.Advance(time.Hour)

	var calls int32
	r, err := l.Load(ctx, "k", countingFetch(&calls, "new", nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if r.Value != "new" || r.Source != SourceRelay || calls != 1 {
		t.Errorf("Load() = %+v with %d fetches, want new from relay", r, calls)
	}
}

func TestLoader_StaleFallback(t *testing.T) {
	clock := newTestClock()
	l, store := newTestLoader(clock, 0)
	ctx := context.Background()
	_ = store.Put(ctx, "k", "old")
	clock.Advance(3 * time.Hour)

	var calls int32
	r, err := l.Load(ctx, "k", countingFetch(&calls, "", errors.New("relay down")))
	if err != nil {
		t.Fatalf("Load() error = %v, want suppressed", err)
	}
	if r.Value != "old" || r.Source != SourceStale || r.Age != 3*time.Hour {
		t.Errorf("Load() = %+v, want stale old value aged 3h", r)
	}
}

func TestLoader_ColdFailure(t *testing.T) {
	clock := newTestClock()
	l, _ := newTestLoader(clock, 0)
	relayDown := errors.New("relay down")

	var calls int32
	_, err := l.GetOrFetch(context.Background(), "k", countingFetch(&calls, "", relayDown))
	if !errors.Is(err, relayDown) {
		t.Errorf("GetOrFetch() error = %v, want %v", err, relayDown)
	}
}

func TestLoader_FailedFetchNotCached(t *testing.T) {
	clock := newTestClock()
	l, store := newTestLoader(clock, 0)
	var calls int32
	_, _ = l.GetOrFetch(context.Background(), "k", countingFetch(&calls, "partial", errors.New("boom")))
	if store.Len() != 0 {
		t.Errorf("store Len() = %d, want 0 after failed fetch", store.Len())
	}
}

// TestLoader_StaleMaxAge verifies entries older than the stale bound are not
// served and the fetch error surfaces.
func TestLoader_StaleMaxAge(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantStale bool
	}{
		{"within bound", 5 * time.Hour, true},
		{"at bound", 6 * time.Hour, true},
		{"beyond bound", 7 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			l, store := newTestLoader(clock, 6*time.Hour)
			ctx := context.Background()
			_ = store.Put(ctx, "k", "old")
			clock.Advance(tt.age)

			relayDown := errors.New("relay down")
			var calls int32
			got, err := l.GetOrFetch(ctx, "k", countingFetch(&calls, "", relayDown))
			if tt.wantStale {
				if err != nil || got != "old" {
					t.Errorf("GetOrFetch() = %q, %v; want stale value", got, err)
				}
				return
			}
			if !errors.Is(err, relayDown) {
				t.Errorf("GetOrFetch() error = %v, want wrapping %v", err, relayDown)
			}
		})
	}
}

// TestLoader_CoalescesConcurrentMisses verifies concurrent misses on one key
// share a single fetch.
func TestLoader_CoalescesConcurrentMisses(t *testing.T) {
	clock := newTestClock()
	l, _ := newTestLoader(clock, 0)
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v", nil
	}

	const n = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], _ = l.GetOrFetch(context.Background(), "k", fetch)
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Errorf("fetch calls = %d, want 1", c)
	}
	for i, r := range results {
		if r != "v" {
			t.Errorf("results[%d] = %q, want v", i, r)
		}
	}
}

func flightWaiters[T any](l *Loader[T], key string) int {
	l.flightsMu.Lock()
	defer l.flightsMu.Unlock()
	if f, ok := l.flights[key]; ok {
		return f.waiters
	}
	return 0
}

func waitForWaiters[T any](t *testing.T, l *Loader[T], key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for flightWaiters(l, key) != n {
		if time.Now().After(deadline) {
			t.Fatalf("waiters on %q = %d, want %d", key, flightWaiters(l, key), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestLoader_CancelledCallerDoesNotFailOthers verifies a shared fetch outlives
// the caller that started it while another caller is still waiting.
func TestLoader_CancelledCallerDoesNotFailOthers(t *testing.T) {
	clock := newTestClock()
	l, store := newTestLoader(clock, 0)
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
			return "v", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := l.GetOrFetch(ctxA, "k", fetch)
		errA <- err
	}()
	waitForWaiters(t, l, "k", 1)

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := l.GetOrFetch(context.Background(), "k", fetch)
		resB <- result{v, err}
	}()
	waitForWaiters(t, l, "k", 2)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	select {
	case r := <-resB:
		if r.err != nil || r.v != "v" {
			t.Fatalf("live caller = (%q, %v), want (v, nil)", r.v, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live caller did not return")
	}
	if c := atomic.LoadInt32(&calls); c != 1 {
		t.Errorf("fetch calls = %d, want 1", c)
	}
	if _, ok, _ := store.Get(context.Background(), "k"); !ok {
		t.Error("shared fetch result not cached")
	}
}

// TestLoader_LastCallerLeavingCancelsFetch verifies the shared fetch is
// cancelled once nobody is waiting on it.
func TestLoader_LastCallerLeavingCancelsFetch(t *testing.T) {
	clock := newTestClock()
	l, _ := newTestLoader(clock, 0)
	fetchErr := make(chan error, 1)
	fetch := func(ctx context.Context) (string, error) {
		<-ctx.Done()
		fetchErr <- ctx.Err()
		return "", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.GetOrFetch(ctx, "k", fetch)
		done <- err
	}()
	waitForWaiters(t, l, "k", 1)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("GetOrFetch() error = %v, want context.Canceled", err)
	}
	select {
	case err := <-fetchErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("fetch ctx err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shared fetch not cancelled after last caller left")
	}
	if n := flightWaiters(l, "k"); n != 0 {
		t.Errorf("waiters = %d, want 0", n)
	}
}

type failingStore struct {
	cache.Store[string]
	getErr error
	putErr error
}

func (f *failingStore) Get(ctx context.Context, key string) (cache.Entry[string], bool, error) {
	if f.getErr != nil {
		return cache.Entry[string]{}, false, f.getErr
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) Put(ctx context.Context, key string, v string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(ctx, key, v)
}

// TestLoader_StoreErrorsDoNotFail verifies backend errors degrade to a miss
// on read and are logged on write.
func TestLoader_StoreErrorsDoNotFail(t *testing.T) {
	clock := newTestClock()
	store := &failingStore{
		Store:  cache.NewMemoryStore[string](time.Hour, clock.Now),
		getErr: errors.New("memcached: connection refused"),
		putErr: errors.New("memcached: connection refused"),
	}
	l := NewLoader[string](cache.KindForecast, store, 0, nil, clock.Now)

	var calls int32
	got, err := l.GetOrFetch(context.Background(), "k", countingFetch(&calls, "fresh", nil))
	if err != nil || got != "fresh" {
		t.Errorf("GetOrFetch() = %q, %v; want fresh value despite store errors", got, err)
	}
}
