package timectrl

import (
	"sync"
	"time"
)

// Clock is the time source used to measure solver phases. Production code uses
// SystemClock; tests use a TimeController so elapsed times are deterministic.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Since returns time.Since(t).
func (SystemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// TimeController is a stepped Clock: every Now call moves time forward by
// Tick, so a measured interval equals Tick times the number of reads in
// between.
type TimeController struct {
	mu   sync.Mutex
	Tick time.Duration

	currentTime time.Time
}

// NewTimeController constructs a controller that starts at start.
func NewTimeController(start time.Time, tick time.Duration) *TimeController {
	return &TimeController{Tick: tick, currentTime: start}
}

// Now advances the clock by Tick and returns the new time.
func (tc *TimeController) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	return tc.currentTime
}

// Since returns the distance from t to Now.
func (tc *TimeController) Since(t time.Time) time.Duration {
	return tc.Now().Sub(t)
}
