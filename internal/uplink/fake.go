package uplink

import (
	"context"
	"sync"
)

// FakeSender records readings and returns scripted errors.
type FakeSender struct {
	mu sync.Mutex

	// Readings contains every reading passed to Post.
	Readings []Reading

	// Registrations contains every registration passed to Register.
	Registrations []Registration

	// Errors is consumed one per Post call. Once exhausted, Post succeeds.
	Errors []error

	// Result is returned on success.
	Result *IngestResult

	// RegisterError, if set, is returned by Register.
	RegisterError error
}

// NewFakeSender creates a FakeSender that fails with errs in order.
func NewFakeSender(errs ...error) *FakeSender {
	return &FakeSender{Errors: errs}
}

// Post records the reading.
func (f *FakeSender) Post(ctx context.Context, r Reading) (*IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Readings = append(f.Readings, r)
	if len(f.Errors) > 0 {
		err := f.Errors[0]
		f.Errors = f.Errors[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.Result, nil
}

// Register records the registration.
func (f *FakeSender) Register(ctx context.Context, reg Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Registrations = append(f.Registrations, reg)
	return f.RegisterError
}

// Calls returns the number of Post calls.
func (f *FakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Readings)
}
