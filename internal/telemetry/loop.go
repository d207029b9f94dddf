// Package telemetry drives the measurement and uplink cycle.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/flow-sensor/internal/flow"
	"github.com/sweeney/flow-sensor/internal/link"
	"github.com/sweeney/flow-sensor/internal/uplink"
)

// DefaultFailureThreshold is the number of consecutive failed sends that
// triggers one reconnect attempt.
const DefaultFailureThreshold = 3

// Supervisor gates network operations on the link.
type Supervisor interface {
	Connect(ctx context.Context) (string, bool)
	Send(ctx context.Context, r uplink.Reading) uplink.Outcome
	Register(ctx context.Context, reg uplink.Registration) error
	State() link.State
}

// TimeSyncer performs best-effort wall-clock synchronization.
type TimeSyncer interface {
	Sync(ctx context.Context) error
}

// Config holds the loop's fixed parameters.
type Config struct {
	Identity         flow.DeviceIdentity
	Window           time.Duration
	SendInterval     time.Duration
	FailureThreshold int
	Register         bool // one-shot registration after the first connect
}

// Result describes one loop iteration.
type Result struct {
	Sample      flow.Sample
	Computed    bool // a window closed and Sample is valid
	Attempted   bool // a send was attempted and Outcome is valid
	Outcome     uplink.Outcome
	SinceSend   time.Duration // measured gap reported as the interval
	Reconnected bool          // the failure threshold triggered a reconnect
}

// Loop owns the rate calculator, the send scheduler, and the failure
// counter. All methods must be called from a single goroutine.
type Loop struct {
	cfg    Config
	rate   *flow.RateCalculator
	sched  *flow.Scheduler
	total  flow.Totalizer
	sup    Supervisor
	syncer TimeSyncer
	wall   func() time.Time
	logger *zap.Logger

	failures int
	unsent   uint64 // pulses since the last successful send
}

// New creates a loop whose first window and last-send time are start.
// wall supplies timestamps for outgoing readings; syncer may be nil.
func New(cfg Config, acc *flow.Accumulator, sup Supervisor, syncer TimeSyncer, wall func() time.Time, start time.Time, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = flow.DefaultWindow
	}
	if wall == nil {
		wall = time.Now
	}
	return &Loop{
		cfg:    cfg,
		rate:   flow.NewRateCalculator(acc, cfg.Identity.Calibration, cfg.Window, start),
		sched:  flow.NewScheduler(cfg.SendInterval, start),
		sup:    sup,
		syncer: syncer,
		wall:   wall,
		logger: logger,
	}
}

// Start attempts the initial connection. On success it synchronizes time
// and, if configured, registers the device. None of these failures are
// fatal.
func (l *Loop) Start(ctx context.Context) {
	addr, ok := l.sup.Connect(ctx)
	if !ok {
		l.logger.Warn("starting without link")
		return
	}
	l.logger.Info("link up", zap.String("address", addr))

	if l.syncer != nil {
		if err := l.syncer.Sync(ctx); err != nil {
			l.logger.Warn("time sync failed", zap.Error(err))
		}
	}

	if l.cfg.Register {
		if err := l.sup.Register(ctx, uplink.NewRegistration(l.cfg.Identity)); err != nil {
			l.logger.Warn("device registration failed", zap.Error(err))
		} else {
			l.logger.Info("device registered", zap.String("device_id", l.cfg.Identity.ID))
		}
	}
}

// Step runs one iteration at loop time now.
func (l *Loop) Step(ctx context.Context, now time.Time) Result {
	var res Result

	sample, ok := l.rate.MaybeCompute(now)
	if !ok {
		return res
	}
	res.Sample, res.Computed = sample, true
	l.total.Add(sample)
	l.unsent += sample.Pulses
	l.logger.Debug("flow", zap.Float64("flow_lpm", sample.FlowRate), zap.Uint64("pulses", sample.Pulses))

	since, due := l.sched.Due(now)
	if !due {
		return res
	}

	reading := uplink.NewReading(l.cfg.Identity.ID, sample, l.wall(), since, l.unsent)
	res.Attempted = true
	res.SinceSend = since
	res.Outcome = l.sup.Send(ctx, reading)
	res.Reconnected = l.record(ctx, now, res.Outcome)
	return res
}

// SafeStep is Step with panics converted to errors.
func (l *Loop) SafeStep(ctx context.Context, now time.Time) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop iteration panicked: %v", r)
		}
	}()
	return l.Step(ctx, now), nil
}

// record applies the escalation policy and reports whether a reconnect
// was attempted.
func (l *Loop) record(ctx context.Context, now time.Time, outcome uplink.Outcome) bool {
	if outcome == uplink.Sent {
		l.sched.MarkSent(now)
		l.failures = 0
		l.unsent = 0
		return false
	}

	l.failures++
	if l.failures < l.cfg.FailureThreshold {
		return false
	}

	l.logger.Warn("multiple send failures, reconnecting",
		zap.Int("failures", l.failures),
		zap.Stringer("last_outcome", outcome))
	if _, ok := l.sup.Connect(ctx); !ok {
		l.logger.Warn("reconnect failed")
	}
	// Reset regardless of the reconnect result: at most one attempt per
	// threshold failures.
	l.failures = 0
	return true
}

// Failures returns the consecutive failure count.
func (l *Loop) Failures() int {
	return l.failures
}

// LastSend returns the loop time of the last successful send.
func (l *Loop) LastSend() time.Time {
	return l.sched.LastSend()
}

// TotalLiters returns the volume measured since startup.
func (l *Loop) TotalLiters() float64 {
	return l.total.Liters()
}

// TotalPulses returns the pulses measured since startup.
func (l *Loop) TotalPulses() uint64 {
	return l.total.Pulses()
}

// LinkState returns the supervisor's link state.
func (l *Loop) LinkState() link.State {
	return l.sup.State()
}
