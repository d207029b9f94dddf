// Package timesync keeps a best-effort NTP offset for wall-clock timestamps.
package timesync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"
)

// DefaultServer is queried when no server is configured.
const DefaultServer = "pool.ntp.org"

// Syncer queries an NTP server and applies the measured offset to Now.
// The system clock itself is never stepped.
type Syncer struct {
	server  string
	timeout time.Duration
	offset  atomic.Int64 // nanoseconds
	query   func(host string, opt ntp.QueryOptions) (*ntp.Response, error)
	now     func() time.Time
	logger  *zap.Logger
}

// New returns a Syncer for server.
func New(server string, timeout time.Duration, logger *zap.Logger) *Syncer {
	if server == "" {
		server = DefaultServer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		server:  server,
		timeout: timeout,
		query:   ntp.QueryWithOptions,
		now:     time.Now,
		logger:  logger,
	}
}

// Sync queries the server once. On failure the previous offset is kept.
func (s *Syncer) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := s.query(s.server, ntp.QueryOptions{Timeout: s.timeout})
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", s.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response from %s: %w", s.server, err)
	}

	s.offset.Store(int64(resp.ClockOffset))
	s.logger.Info("time synced",
		zap.String("server", s.server),
		zap.Duration("offset", resp.ClockOffset),
		zap.Int("stratum", int(resp.Stratum)))
	return nil
}

// Offset returns the last measured clock offset.
func (s *Syncer) Offset() time.Duration {
	return time.Duration(s.offset.Load())
}

// Now returns the local time corrected by the last offset.
func (s *Syncer) Now() time.Time {
	return s.now().Add(s.Offset())
}
