// Package window keeps the sliding error-rate window.
//
// DESIGN: Fixed-capacity ring buffer over request outcomes (error / no
// error). Observe is O(1): the oldest outcome is evicted once the window is
// at capacity and the running 5xx count is adjusted on the way in and out.
// The tracker is a pure statistical smoother - it does not care which pool
// served the request.
package window

// Tracker records the outcome of the last N requests.
type Tracker struct {
	outcomes []bool // true = 5xx
	head     int    // index of the oldest outcome
	size     int
	errors   int
}

// NewTracker creates a tracker over the last capacity requests.
// capacity must be positive; the config layer validates that.
func NewTracker(capacity int) *Tracker {
	return &Tracker{outcomes: make([]bool, capacity)}
}

// Observe records one request outcome, evicting the oldest when full.
func (t *Tracker) Observe(isError bool) {
	if t.size == len(t.outcomes) {
		if t.outcomes[t.head] {
			t.errors--
		}
		t.outcomes[t.head] = isError
		t.head = (t.head + 1) % len(t.outcomes)
	} else {
		t.outcomes[(t.head+t.size)%len(t.outcomes)] = isError
		t.size++
	}
	if isError {
		t.errors++
	}
}

// ErrorRate returns the 5xx percentage over the current window.
// An empty window reports 0 (healthy) rather than dividing by zero.
func (t *Tracker) ErrorRate() float64 {
	if t.size == 0 {
		return 0
	}
	return 100 * float64(t.errors) / float64(t.size)
}

// ErrorCount returns the number of 5xx outcomes currently in the window.
func (t *Tracker) ErrorCount() int { return t.errors }

// Size returns the number of outcomes currently in the window.
func (t *Tracker) Size() int { return t.size }

// Capacity returns the configured window size.
func (t *Tracker) Capacity() int { return len(t.outcomes) }

// Full reports whether the window has warmed up to capacity. Error-rate
// alerting waits for a full window so a single early 5xx cannot fire it.
func (t *Tracker) Full() bool { return t.size == len(t.outcomes) }
