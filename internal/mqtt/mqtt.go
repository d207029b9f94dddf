// Package mqtt mirrors flow samples and system lifecycle events to an MQTT
// broker, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// DefaultTopicPrefix is the root of all published topics.
const DefaultTopicPrefix = "water/flow/sensor"

// Topics derived from a prefix.
type Topics struct {
	Readings string
	System   string
}

// NewTopics returns the reading and system topics under prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Readings: prefix + "/readings",
		System:   prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishSample sends one flow sample.
	// Returns error if publishing fails (should not crash the process).
	PublishSample(event SampleEvent) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SampleEvent is one completed rate window.
type SampleEvent struct {
	Timestamp   time.Time // wall clock
	DeviceID    string
	Sample      flow.Sample
	TotalLiters float64
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a flow sample.
type Payload struct {
	Flow FlowPayload `json:"flow"`
}

// FlowPayload contains the sample details.
type FlowPayload struct {
	Timestamp   string  `json:"timestamp"`
	DeviceID    string  `json:"device_id"`
	FlowRate    float64 `json:"flow_rate_lpm"`
	WindowMs    int64   `json:"window_ms"`
	Pulses      uint64  `json:"pulses"`
	TotalLiters float64 `json:"total_liters"`
}

// FormatSamplePayload creates the JSON payload for a flow sample.
func FormatSamplePayload(event SampleEvent) ([]byte, error) {
	payload := Payload{
		Flow: FlowPayload{
			Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
			DeviceID:    event.DeviceID,
			FlowRate:    event.Sample.FlowRate,
			WindowMs:    event.Sample.Window.Milliseconds(),
			Pulses:      event.Sample.Pulses,
			TotalLiters: event.TotalLiters,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Discard is a Publisher used when no broker is configured.
type Discard struct{}

func (Discard) PublishSample(SampleEvent) error { return nil }
func (Discard) PublishSystem(SystemEvent) error { return nil }
func (Discard) Close() error                    { return nil }
func (Discard) IsConnected() bool               { return false }
