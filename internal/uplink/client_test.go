package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweeney/flow-sensor/internal/flow"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *observer.ObservedLogs) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	c := NewClient(Options{
		Endpoint:         ts.URL + "/api/ingest-water-data",
		RegisterEndpoint: ts.URL + "/api/register-device",
		APIKey:           "secret",
		UserAgent:        "flow-sensor/test",
		Timeout:          2 * time.Second,
	}, zap.New(core))
	return c, logs
}

func TestPostSendsHeadersAndBody(t *testing.T) {
	var got Reading
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ingest-water-data", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "flow-sensor/test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"data":{"dailyTotal":12.5,"litersIncrement":0.5,"anomalies":["possible_leak"]}}`))
	})

	res, err := c.Post(context.Background(), Reading{DeviceID: "dev-1", Timestamp: 1767268800, FlowRate: 6, Interval: 5000})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 12.5, res.DailyTotal)
	assert.Equal(t, 0.5, res.LitersIncrement)
	assert.Equal(t, []string{"possible_leak"}, res.Anomalies)

	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, int64(1767268800), got.Timestamp)
	assert.Equal(t, 6.0, got.FlowRate)
	assert.Equal(t, int64(5000), got.Interval)
}

func TestPostServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"Invalid API key"}`))
	})

	_, err := c.Post(context.Background(), Reading{DeviceID: "dev-1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, ServerError, Classify(err))
}

func TestPostMalformedBodyIsStillSent(t *testing.T) {
	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	res, err := c.Post(context.Background(), Reading{DeviceID: "dev-1"})
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, Sent, Classify(err))
	assert.Equal(t, 1, logs.FilterMessage("ignoring undecodable ingest response").Len())
}

func TestPostTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := NewClient(Options{Endpoint: url, Timeout: time.Second}, nil)
	_, err := c.Post(context.Background(), Reading{DeviceID: "dev-1"})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, NetworkError, Classify(err))
}

func TestPostTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(Options{Endpoint: ts.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Post(context.Background(), Reading{DeviceID: "dev-1"})
	assert.Equal(t, NetworkError, Classify(err))
}

func TestRegister(t *testing.T) {
	var got Registration
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register-device", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true}`))
	})

	reg := NewRegistration(flow.DeviceIdentity{ID: "dev-1", SensorType: "YF-S201", Location: "kitchen", Calibration: 330})
	require.NoError(t, c.Register(context.Background(), reg))
	assert.Equal(t, reg, got)
}

func TestRegisterRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := c.Register(context.Background(), Registration{DeviceID: "dev-1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}
