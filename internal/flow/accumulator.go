package flow

import "sync/atomic"

// Accumulator counts sensor edges.
//
// OnEdge runs on the GPIO event goroutine and must stay allocation-free and
// non-blocking. TakeAndReset runs on the main loop. The swap makes the
// read-and-clear a single atomic step, so an edge lands either before or
// after the reset, never both and never neither.
type Accumulator struct {
	count atomic.Uint64
}

// OnEdge records exactly one pulse.
func (a *Accumulator) OnEdge() {
	a.count.Add(1)
}

// TakeAndReset returns the pulses counted since the previous call and
// resets the counter to zero.
func (a *Accumulator) TakeAndReset() uint64 {
	return a.count.Swap(0)
}
