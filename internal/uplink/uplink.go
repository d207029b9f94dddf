// Package uplink posts flow readings to the ingestion endpoint and classifies
// the result of each attempt.
package uplink

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/flow-sensor/internal/flow"
)

// Outcome is the result of one send attempt.
type Outcome int

const (
	Sent Outcome = iota
	SkippedNoLink
	NetworkError
	ServerError
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "SENT"
	case SkippedNoLink:
		return "SKIPPED_NO_LINK"
	case NetworkError:
		return "NETWORK_ERROR"
	case ServerError:
		return "SERVER_ERROR"
	}
	return fmt.Sprintf("OUTCOME(%d)", int(o))
}

// ErrLinkUnavailable is returned when a request is attempted without a link.
var ErrLinkUnavailable = errors.New("uplink: link unavailable")

// TransportError wraps a request that could not complete (timeout, DNS,
// connection refused).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "uplink transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("uplink: server returned status %d", e.StatusCode)
}

// Classify maps the error from Client.Post to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Sent
	}
	if errors.Is(err, ErrLinkUnavailable) {
		return SkippedNoLink
	}
	var se *StatusError
	if errors.As(err, &se) {
		return ServerError
	}
	return NetworkError
}

// Reading is the ingestion request body.
type Reading struct {
	DeviceID   string  `json:"deviceId"`
	Timestamp  int64   `json:"timestamp"` // unix seconds
	FlowRate   float64 `json:"flowRate"`  // L/min, 3 decimal places
	Interval   int64   `json:"interval"`  // ms since last successful send
	PulseCount uint64  `json:"pulseCount,omitempty"`
}

// NewReading builds a Reading from a sample. wall is the wall-clock time of
// the send and sinceLastSend is the measured gap since the previous
// successful send.
func NewReading(deviceID string, s flow.Sample, wall time.Time, sinceLastSend time.Duration, pulses uint64) Reading {
	return Reading{
		DeviceID:   deviceID,
		Timestamp:  wall.Unix(),
		FlowRate:   round3(s.FlowRate),
		Interval:   sinceLastSend.Milliseconds(),
		PulseCount: pulses,
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Registration is the one-shot device registration body.
type Registration struct {
	DeviceID    string  `json:"deviceId"`
	SensorType  string  `json:"sensorType"`
	Location    string  `json:"location"`
	Calibration float64 `json:"calibration"`
}

// NewRegistration builds a Registration from the device identity.
func NewRegistration(id flow.DeviceIdentity) Registration {
	return Registration{
		DeviceID:    id.ID,
		SensorType:  id.SensorType,
		Location:    id.Location,
		Calibration: id.Calibration,
	}
}

// IngestResult is the advisory data returned on a successful ingest.
// All fields are informational.
type IngestResult struct {
	DailyTotal      float64  `json:"dailyTotal"`
	LitersIncrement float64  `json:"litersIncrement"`
	Anomalies       []string `json:"anomalies"`
}

type ingestResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    *IngestResult `json:"data"`
}
