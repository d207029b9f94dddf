package link

import (
	"context"
	"sync"
)

// FakeLink is a test double with scripted association behaviour.
type FakeLink struct {
	mu sync.Mutex

	// Up reports the current link state.
	Up bool

	// Addr is returned when Up.
	Addr string

	// UpAfterPolls, if positive, brings the link up after that many Address
	// calls following Associate.
	UpAfterPolls int

	// AssociateError, if set, is returned by Associate.
	AssociateError error

	// Associations counts Associate calls.
	Associations int

	polls   int
	pending bool
}

// NewFakeLink creates a FakeLink. up sets the initial state.
func NewFakeLink(up bool) *FakeLink {
	return &FakeLink{Up: up, Addr: "192.168.1.50"}
}

// Associate records the call and arms UpAfterPolls.
func (f *FakeLink) Associate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Associations++
	f.polls = 0
	f.pending = f.UpAfterPolls > 0
	return f.AssociateError
}

// Address reports the scripted state.
func (f *FakeLink) Address() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		f.polls++
		if f.polls >= f.UpAfterPolls {
			f.Up = true
			f.pending = false
		}
	}
	if !f.Up {
		return "", false
	}
	return f.Addr, true
}

// SetUp changes the link state.
func (f *FakeLink) SetUp(up bool) {
	f.mu.Lock()
	f.Up = up
	f.mu.Unlock()
}

// AssociationCount returns the number of Associate calls.
func (f *FakeLink) AssociationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Associations
}
