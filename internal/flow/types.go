// Package flow turns raw sensor pulses into flow-rate samples and decides
// when samples are due for uplink.
package flow

import "time"

// DefaultWindow is the rate-calculation window.
const DefaultWindow = time.Second

// Sample is one completed rate window. It is a value type and is not
// retained after the loop consumes it.
type Sample struct {
	Time     time.Time     // loop time at which the window closed
	FlowRate float64       // liters per minute
	Window   time.Duration // measured elapsed time of the window
	Pulses   uint64        // pulses counted in the window
}

// Liters returns the volume that passed during the window.
func (s Sample) Liters() float64 {
	return s.FlowRate * s.Window.Minutes()
}

// DeviceIdentity is fixed at startup and read-only thereafter.
type DeviceIdentity struct {
	ID          string
	SensorType  string
	Location    string
	Calibration float64 // pulses per liter
}
