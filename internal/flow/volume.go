package flow

// Totalizer keeps a running volume from completed samples.
// Not safe for concurrent use.
type Totalizer struct {
	liters float64
	pulses uint64
}

// Add folds one sample into the total.
func (t *Totalizer) Add(s Sample) {
	t.liters += s.Liters()
	t.pulses += s.Pulses
}

// Liters returns the volume accumulated since startup.
func (t *Totalizer) Liters() float64 {
	return t.liters
}

// Pulses returns the pulses accumulated since startup.
func (t *Totalizer) Pulses() uint64 {
	return t.pulses
}
