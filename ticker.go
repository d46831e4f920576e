package elections

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// NewTicker creates a ticker with no scheduled timers.
func NewTicker() *Ticker {
	return &Ticker{timers: make(map[string]Timer)}
}

// Ticker owns every timer in the engine, keyed by a stable name: the cycle
// key of a context and election type, an election id for its phase deadline,
// or an election id with an archive suffix. Scheduling a key always cancels
// the timer already held under it, so at most one timer per key exists.
type Ticker struct {
	sync.Mutex
	timers map[string]Timer
	closed bool
}

// Schedule the function to be called after the delay under the given key,
// replacing any timer already held under the key. Negative delays fire
// immediately. Returns false if the ticker has been stopped.
func (t *Ticker) Schedule(key string, delay time.Duration, fn func()) bool {
	t.Lock()
	defer t.Unlock()

	if t.closed {
		return false
	}

	if prev, ok := t.timers[key]; ok {
		prev.Stop()
	}

	var timer *Deadline
	timer = NewDeadline(delay, func() {
		// Only the timer currently held under the key may fire.
		t.Lock()
		if current, ok := t.timers[key]; !ok || current != Timer(timer) {
			t.Unlock()
			return
		}
		delete(t.timers, key)
		t.Unlock()

		fn()
	})

	t.timers[key] = timer
	return timer.Start()
}

// Cancel the timer held under the key. Returns true if a timer was stopped.
func (t *Ticker) Cancel(key string) bool {
	t.Lock()
	defer t.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}

	delete(t.timers, key)
	return timer.Stop()
}

// CancelPrefix cancels every timer whose key begins with the prefix and
// returns the number of timers stopped.
func (t *Ticker) CancelPrefix(prefix string) int {
	t.Lock()
	defer t.Unlock()

	stopped := 0
	for key, timer := range t.timers {
		if strings.HasPrefix(key, prefix) {
			delete(t.timers, key)
			if timer.Stop() {
				stopped++
			}
		}
	}
	return stopped
}

// Running determines if a timer is waiting under the key.
func (t *Ticker) Running(key string) bool {
	t.Lock()
	defer t.Unlock()

	timer, ok := t.timers[key]
	return ok && timer.Running()
}

// Deadline returns when the timer under the key fires.
func (t *Ticker) Deadline(key string) (time.Time, bool) {
	t.Lock()
	defer t.Unlock()

	if timer, ok := t.timers[key]; ok && timer.Running() {
		return timer.Deadline(), true
	}
	return time.Time{}, false
}

// Keys returns the sorted keys of all scheduled timers.
func (t *Ticker) Keys() []string {
	t.Lock()
	defer t.Unlock()

	keys := make([]string, 0, len(t.timers))
	for key := range t.timers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// StopAll of the currently running timers; no timers can be scheduled afterward.
func (t *Ticker) StopAll() int {
	t.Lock()
	defer t.Unlock()

	stopped := 0
	for key, timer := range t.timers {
		delete(t.timers, key)
		if timer.Stop() {
			stopped++
		}
	}

	t.closed = true
	return stopped
}
