package gpio

import (
	"errors"
	"sync"
)

// ErrClosed is returned by FakeEdgeSource.Emit after Close.
var ErrClosed = errors.New("gpio: edge source closed")

// FakeEdgeSource is a test double that delivers edges on demand.
type FakeEdgeSource struct {
	mu      sync.Mutex
	handler EdgeHandler
	emitted int

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeEdgeSource creates a FakeEdgeSource delivering to onEdge.
func NewFakeEdgeSource(onEdge EdgeHandler) *FakeEdgeSource {
	return &FakeEdgeSource{handler: onEdge}
}

// Emit delivers n edges to the handler.
func (f *FakeEdgeSource) Emit(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return ErrClosed
	}
	for i := 0; i < n; i++ {
		f.handler()
	}
	f.emitted += n
	return nil
}

// Emitted returns the number of edges delivered so far.
func (f *FakeEdgeSource) Emitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emitted
}

// Close stops delivery.
func (f *FakeEdgeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
