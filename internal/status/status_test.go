package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/link"
	"github.com/sweeney/flow-sensor/internal/uplink"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	tr := NewTracker(start, Config{
		DeviceID:       "dev-1",
		Location:       "kitchen",
		Calibration:    330,
		Pin:            5,
		SendIntervalMs: 5000,
		HeartbeatMs:    900000,
		Endpoint:       "https://example.com/api/ingest-water-data",
		Broker:         "tcp://192.168.1.200:1883",
		HTTPAddr:       ":8080",
	})
	tr.now = func() time.Time { return start.Add(90*time.Second + 500*time.Millisecond) }
	return tr
}

func TestNewTrackerDefaults(t *testing.T) {
	snap := newTestTracker().Snapshot()
	assert.Equal(t, start, snap.StartTime)
	assert.Equal(t, link.Disconnected, snap.Link)
	assert.Equal(t, OutcomeCounts{}, snap.Outcomes)
	assert.Equal(t, 90*time.Second+500*time.Millisecond, snap.Uptime())
}

func TestTrackerRecordOutcome(t *testing.T) {
	tr := newTestTracker()
	sent := start.Add(time.Minute)

	tr.RecordOutcome(uplink.NetworkError, 1, false, time.Time{})
	tr.RecordOutcome(uplink.ServerError, 2, false, time.Time{})
	tr.RecordOutcome(uplink.SkippedNoLink, 0, true, time.Time{})
	tr.RecordOutcome(uplink.Sent, 0, false, sent)

	snap := tr.Snapshot()
	assert.Equal(t, OutcomeCounts{Sent: 1, SkippedNoLink: 1, NetworkError: 1, ServerError: 1}, snap.Outcomes)
	assert.Equal(t, "SENT", snap.LastOutcome)
	assert.Equal(t, 0, snap.Failures)
	assert.Equal(t, 1, snap.Reconnects)
	assert.Equal(t, sent, snap.LastSend)
}

func TestFormatJSON(t *testing.T) {
	tr := newTestTracker()
	tr.RecordSample(flow.Sample{FlowRate: 6.00049, Window: time.Second, Pulses: 33}, start.Add(time.Minute), 1.23456, 407)
	tr.SetLink(link.Connected, "192.168.1.50")
	tr.SetMQTTConnected(true)
	tr.RecordOutcome(uplink.Sent, 0, false, start.Add(time.Minute))

	var sj StatusJSON
	require.NoError(t, json.Unmarshal(FormatJSON(tr.Snapshot()), &sj))

	s := sj.Status
	assert.Empty(t, s.Event)
	assert.Equal(t, 6.0, s.FlowRate)
	assert.Equal(t, 1.235, s.TotalLiters)
	assert.Equal(t, uint64(407), s.TotalPulses)
	assert.Equal(t, int64(90), s.UptimeSeconds)
	assert.Equal(t, "2026-01-01T00:00:00Z", s.StartTime)
	assert.Equal(t, "2026-01-01T00:01:00Z", s.LastSample)
	assert.Equal(t, "CONNECTED", s.Link.State)
	assert.Equal(t, "192.168.1.50", s.Link.Address)
	assert.Equal(t, 1, s.Uplink.Outcomes.Sent)
	assert.Equal(t, "2026-01-01T00:01:00Z", s.Uplink.LastSend)
	assert.Equal(t, "https://example.com/api/ingest-water-data", s.Uplink.Endpoint)
	assert.True(t, s.MQTT.Connected)
	assert.Equal(t, "dev-1", s.Config.DeviceID)
	assert.Equal(t, 330.0, s.Config.Calibration)
	assert.Equal(t, int64(5000), s.Config.SendIntervalMs)
}

func TestFormatJSONOmitsZeroTimes(t *testing.T) {
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(FormatJSON(newTestTracker().Snapshot()), &raw))

	_, ok := raw["status"]["last_sample"]
	assert.False(t, ok, "last_sample omitted before the first window")
	uplinkJSON := raw["status"]["uplink"].(map[string]any)
	_, ok = uplinkJSON["last_send"]
	assert.False(t, ok, "last_send omitted before the first success")
}

func TestFormatStatusEvent(t *testing.T) {
	tr := newTestTracker()

	var sj StatusJSON
	require.NoError(t, json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM"), &sj))
	assert.Equal(t, "SHUTDOWN", sj.Status.Event)
	assert.Equal(t, "SIGTERM", sj.Status.Reason)
	assert.Equal(t, "DISCONNECTED", sj.Status.Link.State)
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := newTestTracker()
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.RecordSample(flow.Sample{FlowRate: float64(i)}, start, 0, 0)
			tr.RecordOutcome(uplink.Sent, 0, false, start)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = FormatJSON(tr.Snapshot())
		}
	}()
	wg.Wait()

	assert.Equal(t, 1000, tr.Snapshot().Outcomes.Sent)
}
