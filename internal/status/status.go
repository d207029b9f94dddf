// Package status provides a thread-safe status tracker for the flow-sensor daemon.
// It is written by the main loop and read by HTTP handlers and heartbeats.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/link"
	"github.com/sweeney/flow-sensor/internal/uplink"
)

// Config contains daemon configuration for display.
type Config struct {
	DeviceID       string
	Location       string
	Calibration    float64
	Pin            int
	SendIntervalMs int64
	HeartbeatMs    int64
	Endpoint       string
	Broker         string
	HTTPAddr       string
}

// OutcomeCounts tallies send attempts by outcome.
type OutcomeCounts struct {
	Sent          int
	SkippedNoLink int
	NetworkError  int
	ServerError   int
}

func (c *OutcomeCounts) add(o uplink.Outcome) {
	switch o {
	case uplink.Sent:
		c.Sent++
	case uplink.SkippedNoLink:
		c.SkippedNoLink++
	case uplink.NetworkError:
		c.NetworkError++
	case uplink.ServerError:
		c.ServerError++
	}
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	FlowRate      float64
	LastSample    time.Time
	TotalLiters   float64
	TotalPulses   uint64
	Link          link.State
	Address       string
	Outcomes      OutcomeCounts
	LastOutcome   string
	Failures      int
	Reconnects    int
	LastSend      time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// RecordSample stores the latest completed window and running totals.
func (t *Tracker) RecordSample(s flow.Sample, at time.Time, totalLiters float64, totalPulses uint64) {
	t.mu.Lock()
	t.snap.FlowRate = s.FlowRate
	t.snap.LastSample = at
	t.snap.TotalLiters = totalLiters
	t.snap.TotalPulses = totalPulses
	t.mu.Unlock()
}

// RecordOutcome tallies one send attempt. lastSend is the wall-clock time of
// the last successful send (zero if none yet).
func (t *Tracker) RecordOutcome(o uplink.Outcome, failures int, reconnected bool, lastSend time.Time) {
	t.mu.Lock()
	t.snap.Outcomes.add(o)
	t.snap.LastOutcome = o.String()
	t.snap.Failures = failures
	if reconnected {
		t.snap.Reconnects++
	}
	t.snap.LastSend = lastSend
	t.mu.Unlock()
}

// SetLink sets the link state and address.
func (t *Tracker) SetLink(state link.State, addr string) {
	t.mu.Lock()
	t.snap.Link = state
	t.snap.Address = addr
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
