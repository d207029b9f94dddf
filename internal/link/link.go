// Package link supervises the wireless link and gates every network
// operation on it.
package link

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/flow-sensor/internal/uplink"
)

// State is the supervisor's view of the link.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Link is the association capability of the network interface.
type Link interface {
	// Associate starts (re)association. It may return before the link is up.
	Associate(ctx context.Context) error

	// Address returns the assigned address and whether the link is up.
	Address() (string, bool)
}

// Sender performs uplink requests.
type Sender interface {
	Post(ctx context.Context, r uplink.Reading) (*uplink.IngestResult, error)
	Register(ctx context.Context, reg uplink.Registration) error
}

// Defaults for connection polling.
const (
	DefaultConnectAttempts = 15
	DefaultConnectPoll     = time.Second
)

// Options configures a Supervisor.
type Options struct {
	ConnectAttempts int           // polls before giving up
	ConnectPoll     time.Duration // delay between polls
}

// Supervisor tracks link state. It never reconnects on its own; callers
// decide when to Connect again.
// Not safe for concurrent use.
type Supervisor struct {
	link    Link
	sender  Sender
	opts    Options
	wait    func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
	state   State
	address string
}

// NewSupervisor creates a Supervisor in the Disconnected state.
func NewSupervisor(l Link, s Sender, opts Options, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = DefaultConnectAttempts
	}
	if opts.ConnectPoll <= 0 {
		opts.ConnectPoll = DefaultConnectPoll
	}
	return &Supervisor{
		link:   l,
		sender: s,
		opts:   opts,
		wait:   sleepContext,
		logger: logger,
	}
}

// State returns the current link state.
func (s *Supervisor) State() State {
	return s.state
}

// Address returns the address assigned at the last successful Connect.
func (s *Supervisor) Address() string {
	return s.address
}

// Connect brings the link up. If the link already reports an address it
// returns immediately. Otherwise it starts association and polls up to
// ConnectAttempts times. It returns the assigned address and whether the
// link is up.
func (s *Supervisor) Connect(ctx context.Context) (string, bool) {
	if addr, ok := s.link.Address(); ok {
		if s.state != Connected {
			s.logger.Info("link already up", zap.String("address", addr))
		}
		s.setConnected(addr)
		return addr, true
	}

	s.state = Disconnected
	s.address = ""

	if err := s.link.Associate(ctx); err != nil {
		s.logger.Warn("link association request failed", zap.Error(err))
	}

	for remaining := s.opts.ConnectAttempts; remaining > 0; remaining-- {
		s.logger.Debug("waiting for link", zap.Int("remaining", remaining))
		if err := s.wait(ctx, s.opts.ConnectPoll); err != nil {
			s.logger.Warn("link connect interrupted", zap.Error(err))
			return "", false
		}
		if addr, ok := s.link.Address(); ok {
			s.setConnected(addr)
			s.logger.Info("link connected", zap.String("address", addr))
			return addr, true
		}
	}

	s.logger.Warn("link connect failed",
		zap.Int("attempts", s.opts.ConnectAttempts),
		zap.Duration("poll", s.opts.ConnectPoll))
	return "", false
}

func (s *Supervisor) setConnected(addr string) {
	s.state = Connected
	s.address = addr
}

// Send posts one reading if the link is up and classifies the result.
// No network I/O happens while Disconnected.
func (s *Supervisor) Send(ctx context.Context, r uplink.Reading) uplink.Outcome {
	if s.state != Connected {
		s.logger.Info("no link, skipping send")
		return uplink.SkippedNoLink
	}

	res, err := s.sender.Post(ctx, r)
	outcome := uplink.Classify(err)
	switch outcome {
	case uplink.Sent:
		fields := []zap.Field{zap.Float64("flow_lpm", r.FlowRate), zap.Int64("interval_ms", r.Interval)}
		if res != nil {
			fields = append(fields, zap.Float64("daily_total_l", res.DailyTotal))
		}
		s.logger.Info("reading sent", fields...)
		if res != nil && len(res.Anomalies) > 0 {
			s.logger.Warn("server flagged anomalies", zap.Strings("anomalies", res.Anomalies))
		}
	case uplink.ServerError:
		s.logger.Warn("server rejected reading", zap.Error(err))
	default:
		s.logger.Warn("network error sending reading", zap.Error(err))
	}
	return outcome
}

// Register performs the one-shot registration when the link is up.
func (s *Supervisor) Register(ctx context.Context, reg uplink.Registration) error {
	if s.state != Connected {
		return uplink.ErrLinkUnavailable
	}
	return s.sender.Register(ctx, reg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
