package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func edges(a *Accumulator, n int) {
	for i := 0; i < n; i++ {
		a.OnEdge()
	}
}

func TestMaybeComputeBeforeWindow(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 330, time.Second, t0)
	edges(&a, 10)

	_, ok := r.MaybeCompute(t0.Add(999 * time.Millisecond))
	assert.False(t, ok, "no sample before window elapses")
	assert.Equal(t, uint64(10), a.TakeAndReset(), "pulses must stay in the accumulator")
}

func TestMaybeComputeAtWindow(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 330, time.Second, t0)
	edges(&a, 33)

	s, ok := r.MaybeCompute(t0.Add(time.Second))
	require.True(t, ok)
	assert.InDelta(t, 6.0, s.FlowRate, 1e-9)
	assert.Equal(t, time.Second, s.Window)
	assert.Equal(t, uint64(33), s.Pulses)
	assert.Equal(t, t0.Add(time.Second), r.WindowStart())

	// The next window starts empty.
	_, ok = r.MaybeCompute(t0.Add(1500 * time.Millisecond))
	assert.False(t, ok)
}

func TestMaybeComputeUsesMeasuredElapsed(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 330, time.Second, t0)
	edges(&a, 66)

	// Loop stalled for two seconds: rate must be normalised by 2s, not 1s.
	s, ok := r.MaybeCompute(t0.Add(2 * time.Second))
	require.True(t, ok)
	assert.InDelta(t, 6.0, s.FlowRate, 1e-9)
	assert.Equal(t, 2*time.Second, s.Window)
}

func TestMaybeComputeJitter(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 450, time.Second, t0)
	edges(&a, 100)

	s, ok := r.MaybeCompute(t0.Add(1100 * time.Millisecond))
	require.True(t, ok)
	want := (100 / 1.1) * 60 / 450
	assert.InDelta(t, want, s.FlowRate, 1e-9)
}

func TestMaybeComputeZeroPulsesIsValidSample(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 330, time.Second, t0)

	s, ok := r.MaybeCompute(t0.Add(time.Second))
	require.True(t, ok, "an idle window still yields a sample")
	assert.Equal(t, 0.0, s.FlowRate)
}

func TestMaybeComputeClockNotAdvanced(t *testing.T) {
	var a Accumulator
	// A zero window passes the window check, leaving only the frozen clock.
	r := NewRateCalculator(&a, 330, 0, t0)
	edges(&a, 5)

	for i := 0; i < 3; i++ {
		_, ok := r.MaybeCompute(t0)
		assert.False(t, ok)
	}
	assert.Equal(t, uint64(5), a.TakeAndReset(), "pulses must not be drained without a sample")
}

func TestMaybeComputeClockWentBackwards(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 330, time.Second, t0)
	edges(&a, 5)

	_, ok := r.MaybeCompute(t0.Add(-time.Hour))
	assert.False(t, ok)
}

func TestRateCalculatorReset(t *testing.T) {
	var a Accumulator
	r := NewRateCalculator(&a, 330, time.Second, t0)
	r.Reset(t0.Add(5 * time.Second))

	_, ok := r.MaybeCompute(t0.Add(5500 * time.Millisecond))
	assert.False(t, ok)
	_, ok = r.MaybeCompute(t0.Add(6 * time.Second))
	assert.True(t, ok)
}

func TestSampleLiters(t *testing.T) {
	s := Sample{FlowRate: 6, Window: 30 * time.Second}
	assert.InDelta(t, 3.0, s.Liters(), 1e-9)
}

func TestTotalizer(t *testing.T) {
	var tot Totalizer
	tot.Add(Sample{FlowRate: 6, Window: time.Minute, Pulses: 1980})
	tot.Add(Sample{FlowRate: 3, Window: time.Minute, Pulses: 990})

	assert.InDelta(t, 9.0, tot.Liters(), 1e-9)
	assert.Equal(t, uint64(2970), tot.Pulses())
}
