// Package health exposes a minimal readiness aggregate over both
// drivers' last-successful-pass timestamps, in the spirit of the
// teacher's node.Service lifecycle — not an HTTP server itself (the
// admin surface that would poll it is out of scope per spec.md §1).
package health

import (
	"sync"
	"time"
)

type Tracker struct {
	mu             sync.RWMutex
	lastTickPass   time.Time
	lastQueuePass  time.Time
	staleAfter     time.Duration
}

func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{staleAfter: staleAfter}
}

func (t *Tracker) RecordTickPass(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTickPass = at
}

func (t *Tracker) RecordQueuePass(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastQueuePass = at
}

// Healthy reports whether both drivers have completed a pass within
// staleAfter of now. Before the first pass of either driver, it
// reports unhealthy — there is nothing yet to be confident about.
func (t *Tracker) Healthy(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTickPass.IsZero() || t.lastQueuePass.IsZero() {
		return false
	}
	return now.Sub(t.lastTickPass) <= t.staleAfter && now.Sub(t.lastQueuePass) <= t.staleAfter
}
