package coordinator

import (
	"sync"
	"time"
)

// timerSet holds at most one pending timer per key. Arming a key that
// already has a timer replaces it, so only the latest deadline counts.
type timerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn to run after d, replacing any pending timer for key.
// The key is cleared before fn runs so a stale fire cannot cancel a timer
// armed after it.
func (t *timerSet) Arm(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[key]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		// A replaced timer can still fire; only the current one counts.
		if t.timers[key] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()
		fn()
	})
	t.timers[key] = timer
}

// Cancel stops and removes the pending timer for key, if any
func (t *timerSet) Cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}

// Active reports whether key has a pending timer
func (t *timerSet) Active(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

// StopAll cancels every pending timer
func (t *timerSet) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
