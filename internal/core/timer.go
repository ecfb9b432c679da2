package core

import "time"

// Interval reports when a wall-clock period has elapsed. It schedules
// periodic work such as backups between steps of a long run.
type Interval struct {
	every time.Duration
	last  time.Time
	now   func() time.Time
}

// NewInterval starts an Interval that becomes due every period. A
// non-positive period is never due.
func NewInterval(every time.Duration) *Interval {
	i := &Interval{every: every, now: time.Now}
	i.last = i.now()
	return i
}

// Due reports whether a full period has passed since the last reset and
// restarts the period when it has.
func (i *Interval) Due() bool {
	if i.every <= 0 {
		return false
	}
	now := i.now()
	if now.Sub(i.last) < i.every {
		return false
	}
	i.last = now
	return true
}

// Reset restarts the current period.
func (i *Interval) Reset() {
	i.last = i.now()
}
