package flow

import "time"

// ShouldSend reports whether interval has elapsed since lastSend.
// The boundary is inclusive.
func ShouldSend(now, lastSend time.Time, interval time.Duration) bool {
	return now.Sub(lastSend) >= interval
}

// Scheduler tracks the last successful uplink. It only moves forward on
// MarkSent, so a failed or skipped send leaves the next check overdue.
type Scheduler struct {
	interval time.Duration
	lastSend time.Time
}

// NewScheduler creates a scheduler whose last send is start.
func NewScheduler(interval time.Duration, start time.Time) *Scheduler {
	return &Scheduler{interval: interval, lastSend: start}
}

// Due returns the measured time since the last successful send and whether
// a send is due.
func (s *Scheduler) Due(now time.Time) (time.Duration, bool) {
	return now.Sub(s.lastSend), ShouldSend(now, s.lastSend, s.interval)
}

// MarkSent records a successful send at now.
func (s *Scheduler) MarkSent(now time.Time) {
	s.lastSend = now
}

// LastSend returns the time of the last successful send (or the start time).
func (s *Scheduler) LastSend() time.Time {
	return s.lastSend
}

// Interval returns the configured send interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
