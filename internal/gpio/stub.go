//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// ChipPins is not available on non-Linux platforms.
type ChipPins struct{}

// NewChipPins returns an error on non-Linux platforms.
func NewChipPins(chip string, debounce time.Duration) (*ChipPins, error) {
	return nil, errUnsupported
}

// Configure is not implemented on non-Linux platforms.
func (p *ChipPins) Configure(pin int, dir Direction, edge Edge) error {
	return errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (p *ChipPins) Read(pin int) (bool, error) {
	return false, errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (p *ChipPins) Write(pin int, value bool) error {
	return errUnsupported
}

// Subscribe is a no-op on non-Linux platforms.
func (p *ChipPins) Subscribe(h EdgeHandler) func() {
	return func() {}
}

// Close is not implemented on non-Linux platforms.
func (p *ChipPins) Close() error {
	return nil
}
