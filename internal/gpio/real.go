//go:build linux

package gpio

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealEdgeSource watches a flow sensor line through the GPIO character device.
type RealEdgeSource struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealEdgeSource requests pin on chip as a pulled-up input and calls
// onEdge for every falling edge. A positive debounce enables kernel-side
// debouncing.
func NewRealEdgeSource(chipName string, pin int, debounce time.Duration, onEdge EdgeHandler) (*RealEdgeSource, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("flow-sensor"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	// The sensor output is open collector: idle high, pulses pull low.
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			if evt.Type == gpiocdev.LineEventFallingEdge {
				onEdge()
			}
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	line, err := chip.RequestLine(pin, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request flow pin %d: %w", pin, err)
	}

	return &RealEdgeSource{chip: chip, line: line}, nil
}

// Close releases GPIO resources.
// The line is reconfigured to a plain input with pull-down (Pi boot default)
// before closing so the pin is left in a clean state for reboot.
func (r *RealEdgeSource) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure flow pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close flow pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
