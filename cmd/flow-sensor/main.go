// Command flow-sensor counts flow-meter pulses on a GPIO line and reports the
// flow rate to an HTTP ingestion endpoint, optionally mirroring to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/flow-sensor/internal/config"
	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/gpio"
	"github.com/sweeney/flow-sensor/internal/link"
	"github.com/sweeney/flow-sensor/internal/logging"
	"github.com/sweeney/flow-sensor/internal/mqtt"
	"github.com/sweeney/flow-sensor/internal/status"
	"github.com/sweeney/flow-sensor/internal/telemetry"
	"github.com/sweeney/flow-sensor/internal/timesync"
	"github.com/sweeney/flow-sensor/internal/uplink"
	"github.com/sweeney/flow-sensor/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (FLOW_* env vars override it)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	register := flag.Bool("register", false, "Register the device with the backend after the first connect")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if *printConfig {
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		fmt.Print(string(out))
		return
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	os.Exit(finish(logger, run(cfg, *register, logger)))
}

// finish logs a run error and flushes the logger. run's deferred cleanup has
// already happened by the time it is called.
func finish(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("fatal", zap.Error(err))
		code = 1
	}
	logger.Sync() //nolint:errcheck
	return code
}

func run(cfg *config.Config, register bool, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identity := cfg.Identity()

	// Pulses are counted on the GPIO watcher goroutine from here on.
	acc := &flow.Accumulator{}
	edges, err := gpio.NewRealEdgeSource(cfg.GPIO.Chip, cfg.GPIO.Pin, cfg.GPIO.Debounce, acc.OnEdge)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer edges.Close()

	client := uplink.NewClient(uplink.Options{
		Endpoint:         cfg.Uplink.Endpoint,
		RegisterEndpoint: cfg.Uplink.RegisterEndpoint,
		APIKey:           cfg.Uplink.APIKey,
		UserAgent:        cfg.Uplink.UserAgent,
		Timeout:          cfg.Uplink.Timeout,
	}, logger.Named("uplink"))

	sup := link.NewSupervisor(
		link.NewInterfaceLink(cfg.Link.Interface, cfg.Link.ReconnectCommand),
		client,
		link.Options{ConnectAttempts: cfg.Link.ConnectAttempts, ConnectPoll: cfg.Link.ConnectPoll},
		logger.Named("link"),
	)

	wall := time.Now
	var syncer telemetry.TimeSyncer
	if cfg.NTP.Enabled {
		s := timesync.New(cfg.NTP.Server, cfg.NTP.Timeout, logger.Named("ntp"))
		syncer, wall = s, s.Now
	}

	publisher, mqttStatus, err := newPublisher(cfg, logger.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	tracker := status.NewTracker(time.Now(), status.Config{
		DeviceID:       identity.ID,
		Location:       identity.Location,
		Calibration:    identity.Calibration,
		Pin:            cfg.GPIO.Pin,
		SendIntervalMs: cfg.Uplink.SendInterval.Milliseconds(),
		HeartbeatMs:    cfg.MQTT.Heartbeat.Milliseconds(),
		Endpoint:       cfg.Uplink.Endpoint,
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
	})

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, logger.Named("http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	start := time.Now()
	loop := telemetry.New(telemetry.Config{
		Identity:         identity,
		Window:           cfg.Loop.Window,
		SendInterval:     cfg.Uplink.SendInterval,
		FailureThreshold: cfg.Loop.FailureThreshold,
		Register:         register,
	}, acc, sup, syncer, wall, start, logger.Named("loop"))
	loop.Start(ctx)

	tracker.SetLink(sup.State(), sup.Address())
	tracker.SetMQTTConnected(mqttStatus.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  wall(),
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		logger.Warn("failed to publish startup event", zap.Error(err))
	}

	logger.Info("started",
		zap.String("device_id", identity.ID),
		zap.Float64("calibration", identity.Calibration),
		zap.Int("pin", cfg.GPIO.Pin),
		zap.Duration("send_interval", cfg.Uplink.SendInterval),
		zap.String("endpoint", cfg.Uplink.Endpoint))

	ticker := time.NewTicker(cfg.Loop.Idle)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctx, loopDeps{
		loop:       loop,
		addr:       sup.Address,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		heartbeat:  telemetry.NewHeartbeat(cfg.MQTT.Heartbeat, start),
		deviceID:   identity.ID,
		wall:       wall,
		now:        time.Now,
		tick:       ticker.C,
		sig:        sigCh,
		cooldown:   cfg.Loop.Cooldown,
		logger:     logger,
	})
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (mqtt.Publisher, mqtt.ConnectionStatus, error) {
	if cfg.MQTT.Broker == "" {
		logger.Info("no mqtt broker configured, mirror disabled")
		return mqtt.Discard{}, mqtt.Discard{}, nil
	}
	p, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topics:   mqtt.NewTopics(cfg.MQTT.TopicPrefix),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p, nil
}

// loopDeps is everything runLoop touches. tracker and heartbeat may be nil.
type loopDeps struct {
	loop       *telemetry.Loop
	addr       func() string
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  *telemetry.Heartbeat
	deviceID   string
	wall       func() time.Time
	now        func() time.Time
	tick       <-chan time.Time
	sig        <-chan os.Signal
	cooldown   time.Duration
	logger     *zap.Logger
}

func runLoop(ctx context.Context, d loopDeps) error {
	var coolUntil time.Time

	for {
		select {
		case s := <-d.sig:
			reason := signalName(s)
			d.logger.Info("shutting down", zap.String("signal", reason))
			event := mqtt.SystemEvent{
				Timestamp: d.wall(),
				Event:     "SHUTDOWN",
				Reason:    reason,
				Retained:  true,
			}
			if d.tracker != nil {
				d.refreshTracker()
				event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", reason)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				d.logger.Warn("failed to publish shutdown event", zap.Error(err))
			}
			return nil

		case <-d.tick:
			t := d.now()
			if t.Before(coolUntil) {
				continue
			}

			if err := d.iterate(ctx, t); err != nil {
				d.logger.Error("loop iteration failed, cooling down",
					zap.Error(err), zap.Duration("cooldown", d.cooldown))
				coolUntil = t.Add(d.cooldown)
			}
		}
	}
}

// iterate runs one step and its reporting. Panics anywhere in the iteration
// are returned as errors.
func (d loopDeps) iterate(ctx context.Context, t time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop iteration panicked: %v", r)
		}
	}()

	res, err := d.loop.SafeStep(ctx, t)
	if err != nil {
		return err
	}

	if res.Computed {
		d.publishSample(res.Sample)
	}
	if res.Attempted && d.tracker != nil {
		d.tracker.RecordOutcome(res.Outcome, d.loop.Failures(), res.Reconnected, d.loop.LastSend())
	}
	if d.tracker != nil {
		d.refreshTracker()
	}

	if d.heartbeat != nil {
		if uptime, ok := d.heartbeat.Check(t); ok {
			d.publishHeartbeat(uptime)
		}
	}
	return nil
}

func (d loopDeps) publishSample(s flow.Sample) {
	at := d.wall()
	if d.tracker != nil {
		d.tracker.RecordSample(s, at, d.loop.TotalLiters(), d.loop.TotalPulses())
	}
	event := mqtt.SampleEvent{
		Timestamp:   at,
		DeviceID:    d.deviceID,
		Sample:      s,
		TotalLiters: d.loop.TotalLiters(),
	}
	if err := d.publisher.PublishSample(event); err != nil {
		// Mirror failures never affect the uplink path.
		d.logger.Debug("mqtt publish error", zap.Error(err))
	}
}

func (d loopDeps) publishHeartbeat(uptime time.Duration) {
	d.logger.Info("heartbeat",
		zap.Duration("uptime", uptime),
		zap.Float64("total_liters", d.loop.TotalLiters()),
		zap.Stringer("link", d.loop.LinkState()))

	event := mqtt.SystemEvent{
		Timestamp: d.wall(),
		Event:     "HEARTBEAT",
	}
	if d.tracker != nil {
		d.refreshTracker()
		event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.logger.Warn("heartbeat publish error", zap.Error(err))
	}
}

func (d loopDeps) refreshTracker() {
	addr := ""
	if d.addr != nil {
		addr = d.addr()
	}
	d.tracker.SetLink(d.loop.LinkState(), addr)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
