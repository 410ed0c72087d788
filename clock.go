package webmplay

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Stopwatch measures wall time across pause/resume cycles.
type Stopwatch struct {
	mu      sync.Mutex
	now     func() time.Time
	running bool
	started time.Time
	elapsed time.Duration
}

// NewStopwatch returns a stopped stopwatch reading zero.
func NewStopwatch() *Stopwatch {
	return &Stopwatch{now: time.Now}
}

// Resume starts the stopwatch. No-op if running.
func (s *Stopwatch) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.started = s.now()
}

// Pause stops the stopwatch and keeps the accumulated time.
func (s *Stopwatch) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.elapsed += s.now().Sub(s.started)
	s.running = false
}

// Reset stops the stopwatch and zeroes it.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.elapsed = 0
}

// Running reports whether the stopwatch is counting.
func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Elapsed returns the accumulated running time.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.elapsed + s.now().Sub(s.started)
	}
	return s.elapsed
}

// Clock is the playback clock. Play time only moves forward through Advance,
// driven by the caller's frame delta. The stopwatch tracks wall time spent
// playing, excluding buffering and pauses.
type Clock struct {
	bits  atomic.Uint64 // float64 seconds
	watch *Stopwatch
}

// NewClock returns a clock at zero.
func NewClock() *Clock {
	return &Clock{watch: NewStopwatch()}
}

// Time returns the play time in seconds.
func (c *Clock) Time() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Advance adds dt seconds and returns the new play time. Negative and NaN
// deltas are ignored.
func (c *Clock) Advance(dt float64) float64 {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return c.Time()
	}
	for {
		old := c.bits.Load()
		t := math.Float64frombits(old) + dt
		if c.bits.CompareAndSwap(old, math.Float64bits(t)) {
			return t
		}
	}
}

// Resume starts the wall-clock stopwatch.
func (c *Clock) Resume() { c.watch.Resume() }

// Pause stops the wall-clock stopwatch.
func (c *Clock) Pause() { c.watch.Pause() }

// Running reports whether the stopwatch is counting.
func (c *Clock) Running() bool { return c.watch.Running() }

// WallTime returns the wall time spent playing.
func (c *Clock) WallTime() time.Duration { return c.watch.Elapsed() }

// Reset zeroes the play time and the stopwatch.
func (c *Clock) Reset() {
	c.watch.Reset()
	c.bits.Store(0)
}
