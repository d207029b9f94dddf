// Package gpio delivers flow sensor edges from a GPIO line.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// EdgeHandler is invoked once per falling edge. It runs on the GPIO event
// goroutine, so it must not block, allocate, or log.
type EdgeHandler func()

// EdgeSource is a watched input line. Edges are delivered to the handler
// given at construction until Close.
type EdgeSource interface {
	// Close stops edge delivery and releases GPIO resources.
	Close() error
}

// Defaults (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 5
)
