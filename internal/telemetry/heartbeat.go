package telemetry

import "time"

// Heartbeat fires at a fixed interval measured from the previous beat.
type Heartbeat struct {
	interval time.Duration
	start    time.Time
	last     time.Time
}

// NewHeartbeat creates a heartbeat whose first beat is due interval after
// start. A non-positive interval disables it.
func NewHeartbeat(interval time.Duration, start time.Time) *Heartbeat {
	return &Heartbeat{interval: interval, start: start, last: start}
}

// Check returns the uptime and true if a beat is due at now.
func (h *Heartbeat) Check(now time.Time) (time.Duration, bool) {
	if h.interval <= 0 {
		return 0, false
	}
	if now.Sub(h.last) < h.interval {
		return 0, false
	}
	h.last = now
	return now.Sub(h.start), true
}
