// Package gapstat tracks how long a device has been failing within a
// sliding time window.
//
// Each Add call records a state transition at the current time: the device
// is failing (or healthy) from that moment on. The interval closed by an Add
// keeps the state it was opened with; it is never relabelled with the state
// being added. The stat keeps the closed
// intervals inside the window in a deque together with a running sum of
// their failing duration, trimming from the front as time advances. Each
// Add is amortised O(1); adjacent intervals of the same state are merged.
package gapstat

import (
	"sync"
	"time"
)

// DefaultWindow is the window length used when none is given.
const DefaultWindow = 20 * time.Minute

type segment struct {
	start   time.Time
	end     time.Time
	failing bool
}

// Stat is a sliding-window failing-duration counter. Safe for concurrent use.
type Stat struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time

	segs []segment
	head int
	sum  time.Duration

	last    time.Time
	failing bool
}

// Option configures a Stat.
type Option func(*Stat)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Stat) {
		s.now = now
	}
}

// New creates a Stat that starts in the healthy state at the current time.
func New(window time.Duration, opts ...Option) *Stat {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &Stat{window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.last = s.now()
	return s
}

// Add records that the device is failing (or not) from now on and returns
// the failing duration of the closed intervals inside the window.
func (s *Stat) Add(failing bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.last) {
		now = s.last
	}

	if now.After(s.last) {
		s.push(segment{start: s.last, end: now, failing: s.failing})
		if s.failing {
			s.sum += now.Sub(s.last)
		}
	}
	s.last = now
	s.failing = failing

	s.trim(now.Add(-s.window))
	return s.sum
}

// Ratio returns the failing share of the window in [0, 1], counting the
// still-open interval since the last Add.
func (s *Stat) Ratio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Before(s.last) {
		now = s.last
	}
	cutoff := now.Add(-s.window)
	s.trim(cutoff)

	total := s.sum
	if s.failing {
		start := s.last
		if start.Before(cutoff) {
			start = cutoff
		}
		total += now.Sub(start)
	}

	r := float64(total) / float64(s.window)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// Failing reports the current state.
func (s *Stat) Failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing
}

// push appends a closed interval, extending the previous one when the state
// did not change.
func (s *Stat) push(seg segment) {
	if n := len(s.segs); n > s.head {
		tail := &s.segs[n-1]
		if tail.failing == seg.failing && tail.end.Equal(seg.start) {
			tail.end = seg.end
			return
		}
	}
	s.segs = append(s.segs, seg)
}

// trim drops or shortens intervals that start before cutoff.
func (s *Stat) trim(cutoff time.Time) {
	for s.head < len(s.segs) {
		seg := &s.segs[s.head]
		if !seg.end.After(cutoff) {
			if seg.failing {
				s.sum -= seg.end.Sub(seg.start)
			}
			s.segs[s.head] = segment{}
			s.head++
			continue
		}
		if seg.start.Before(cutoff) {
			if seg.failing {
				s.sum -= cutoff.Sub(seg.start)
			}
			seg.start = cutoff
		}
		break
	}

	if s.head > 0 && s.head*2 >= len(s.segs) {
		n := copy(s.segs, s.segs[s.head:])
		s.segs = s.segs[:n]
		s.head = 0
	}
}
