package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	FlowRate      float64    `json:"flow_rate_lpm"`
	LastSample    string     `json:"last_sample,omitempty"`
	TotalLiters   float64    `json:"total_liters"`
	TotalPulses   uint64     `json:"total_pulses"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Link          LinkJSON   `json:"link"`
	Uplink        UplinkJSON `json:"uplink"`
	MQTT          MQTTStatus `json:"mqtt"`
	Config        ConfigJSON `json:"config"`
}

// LinkJSON reports the wireless link.
type LinkJSON struct {
	State   string `json:"state"`
	Address string `json:"address,omitempty"`
}

// UplinkJSON reports send statistics.
type UplinkJSON struct {
	Endpoint            string     `json:"endpoint"`
	LastSend            string     `json:"last_send,omitempty"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Reconnects          int        `json:"reconnects"`
	Outcomes            CountsJSON `json:"outcomes"`
}

// CountsJSON is the JSON representation of outcome counts.
type CountsJSON struct {
	Sent          int `json:"sent"`
	SkippedNoLink int `json:"skipped_no_link"`
	NetworkError  int `json:"network_error"`
	ServerError   int `json:"server_error"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	DeviceID       string  `json:"device_id"`
	Location       string  `json:"location,omitempty"`
	Calibration    float64 `json:"calibration"`
	Pin            int     `json:"pin"`
	SendIntervalMs int64   `json:"send_interval_ms"`
	HeartbeatMs    int64   `json:"heartbeat_ms"`
	HTTPAddr       string  `json:"http_addr,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		FlowRate:      round3(snap.FlowRate),
		LastSample:    formatTime(snap.LastSample),
		TotalLiters:   round3(snap.TotalLiters),
		TotalPulses:   snap.TotalPulses,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		Timestamp:     formatTime(snap.Now),
		Link: LinkJSON{
			State:   snap.Link.String(),
			Address: snap.Address,
		},
		Uplink: UplinkJSON{
			Endpoint:            snap.Config.Endpoint,
			LastSend:            formatTime(snap.LastSend),
			LastOutcome:         snap.LastOutcome,
			ConsecutiveFailures: snap.Failures,
			Reconnects:          snap.Reconnects,
			Outcomes: CountsJSON{
				Sent:          snap.Outcomes.Sent,
				SkippedNoLink: snap.Outcomes.SkippedNoLink,
				NetworkError:  snap.Outcomes.NetworkError,
				ServerError:   snap.Outcomes.ServerError,
			},
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			DeviceID:       snap.Config.DeviceID,
			Location:       snap.Config.Location,
			Calibration:    snap.Config.Calibration,
			Pin:            snap.Config.Pin,
			SendIntervalMs: snap.Config.SendIntervalMs,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
