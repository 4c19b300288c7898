package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWarmer struct {
	mu    sync.Mutex
	runs  [][]string
	err   error
	ran   chan struct{}
	block bool
}

func newFakeWarmer() *fakeWarmer {
	return &fakeWarmer{ran: make(chan struct{}, 16)}
}

func (f *fakeWarmer) Warm(ctx context.Context, cities []string) error {
	f.mu.Lock()
	f.runs = append(f.runs, cities)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
	}
	f.ran <- struct{}{}
	return f.err
}

func (f *fakeWarmer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func waitRun(t *testing.T, f *fakeWarmer) {
	t.Helper()
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("warmer never ran")
	}
}

func TestScheduler_RunsImmediately(t *testing.T) {
	warmer := newFakeWarmer()
	s := New(warmer, []string{"Nairobi", "Lagos"}, time.Hour, 0, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitRun(t, warmer)

	warmer.mu.Lock()
	defer warmer.mu.Unlock()
	if len(warmer.runs[0]) != 2 || warmer.runs[0][0] != "Nairobi" {
		t.Errorf("cities = %v", warmer.runs[0])
	}
}

func TestScheduler_NoCities(t *testing.T) {
	warmer := newFakeWarmer()
	s := New(warmer, nil, time.Hour, 0, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	if warmer.count() != 0 {
		t.Errorf("runs = %d, want 0", warmer.count())
	}
}

func TestScheduler_LogsWarmErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	warmer := newFakeWarmer()
	warmer.err = errors.New("warm Lagos: relay down")
	s := New(warmer, []string{"Lagos"}, time.Hour, 0, zap.New(core))
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitRun(t, warmer)
	deadline := time.Now().Add(time.Second)
	for logs.FilterMessage("scheduler: warming finished with errors").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("warm error not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestScheduler_StopCancelsRun verifies Stop releases a run blocked on its context.
func TestScheduler_StopCancelsRun(t *testing.T) {
	warmer := newFakeWarmer()
	warmer.block = true
	s := New(warmer, []string{"Nairobi"}, time.Hour, time.Hour, zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for warmer.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("warmer never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	waitRun(t, warmer)
}

func TestNew_Defaults(t *testing.T) {
	s := New(newFakeWarmer(), nil, 0, 0, nil)
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
	if s.runTimeout != DefaultInterval {
		t.Errorf("runTimeout = %v, want %v", s.runTimeout, DefaultInterval)
	}
}
