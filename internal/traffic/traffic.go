// Package traffic tracks recent fetch outcomes in sliding windows. The
// control API reads it to report degraded health.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept; windows longer than this see
// only the last retention worth of data.
const retention = 15 * time.Minute

// Tracker maintains sliding windows of outcome timestamps. The zero value is
// ready to use.
type Tracker struct {
	mu          sync.Mutex
	now         func() time.Time
	successes   []time.Time
	staleServes []time.Time
	errs        []time.Time
	denials     []time.Time
}

// NewTracker returns a Tracker using now as its clock (time.Now when nil).
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// RecordSuccess records a city fetch that delivered fresh or cached data.
func (t *Tracker) RecordSuccess() { t.record(&t.successes) }

// RecordStale records a fetch answered from stale cache after the relay failed.
// Stale serves count as successes for the error rate but are reported separately.
func (t *Tracker) RecordStale() { t.record(&t.staleServes) }

// RecordError records a city fetch that ended in WEATHER_ERROR.
func (t *Tracker) RecordError() { t.record(&t.errs) }

// RecordDenied records a control API request rejected by the rate limiter.
func (t *Tracker) RecordDenied() { t.record(&t.denials) }

func (t *Tracker) record(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount
// covers successes, stale serves and errors; denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	errors = countSince(t.errs, cutoff)
	total = errors + countSince(t.successes, cutoff) + countSince(t.staleServes, cutoff)
	return errors, total
}

// StaleCount returns the number of stale serves within the window.
func (t *Tracker) StaleCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.staleServes, t.clock().Add(-window))
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denials, t.clock().Add(-window))
}

// Degraded reports whether errors make up at least thresholdPct percent of
// outcomes in the window. An empty window is never degraded.
func (t *Tracker) Degraded(window time.Duration, thresholdPct float64) bool {
	errors, total := t.ErrorRate(window)
	if total == 0 || thresholdPct <= 0 {
		return false
	}
	return float64(errors)*100/float64(total) >= thresholdPct
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes, t.staleServes, t.errs, t.denials = nil, nil, nil, nil
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// countSince counts timestamps that are not before the cutoff.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successes)
	prune(&t.staleServes)
	prune(&t.errs)
	prune(&t.denials)
}
