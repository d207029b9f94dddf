//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealEdgeSource is not available on non-Linux platforms.
type RealEdgeSource struct{}

// NewRealEdgeSource returns an error on non-Linux platforms.
func NewRealEdgeSource(chipName string, pin int, debounce time.Duration, onEdge EdgeHandler) (*RealEdgeSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Close is a no-op on non-Linux platforms.
func (r *RealEdgeSource) Close() error {
	return nil
}
