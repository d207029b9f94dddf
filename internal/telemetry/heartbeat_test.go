package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeat(t *testing.T) {
	h := NewHeartbeat(15*time.Minute, t0)

	_, ok := h.Check(t0.Add(14 * time.Minute))
	assert.False(t, ok)

	uptime, ok := h.Check(t0.Add(15 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 15*time.Minute, uptime)

	_, ok = h.Check(t0.Add(20 * time.Minute))
	assert.False(t, ok, "interval measured from the previous beat")

	uptime, ok = h.Check(t0.Add(31 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 31*time.Minute, uptime)
}

func TestHeartbeatDisabled(t *testing.T) {
	h := NewHeartbeat(0, t0)
	_, ok := h.Check(t0.Add(24 * time.Hour))
	assert.False(t, ok)
}
