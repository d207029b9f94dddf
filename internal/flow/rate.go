package flow

import "time"

// RateCalculator drains the accumulator once per window and converts the
// pulse count to liters per minute.
type RateCalculator struct {
	acc             *Accumulator
	calibration     float64
	window          time.Duration
	lastWindowStart time.Time
}

// NewRateCalculator creates a calculator whose first window starts at start.
// A negative window falls back to DefaultWindow; a zero window computes on
// every call.
func NewRateCalculator(acc *Accumulator, calibration float64, window time.Duration, start time.Time) *RateCalculator {
	if window < 0 {
		window = DefaultWindow
	}
	return &RateCalculator{
		acc:             acc,
		calibration:     calibration,
		window:          window,
		lastWindowStart: start,
	}
}

// Reset starts a new window at now without draining the accumulator.
func (r *RateCalculator) Reset(now time.Time) {
	r.lastWindowStart = now
}

// WindowStart returns the start of the current window.
func (r *RateCalculator) WindowStart() time.Time {
	return r.lastWindowStart
}

// MaybeCompute returns a sample if at least one window has elapsed since the
// last one. The rate is normalised by the measured elapsed time, not the
// nominal window, so loop jitter does not skew it.
func (r *RateCalculator) MaybeCompute(now time.Time) (Sample, bool) {
	elapsed := now.Sub(r.lastWindowStart)
	if elapsed < r.window {
		return Sample{}, false
	}
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		// Clock has not advanced; leave pulses in the accumulator.
		return Sample{}, false
	}

	count := r.acc.TakeAndReset()
	pulsesPerSecond := float64(count) / seconds
	rate := pulsesPerSecond * 60 / r.calibration

	r.lastWindowStart = now
	return Sample{
		Time:     now,
		FlowRate: rate,
		Window:   elapsed,
		Pulses:   count,
	}, true
}
