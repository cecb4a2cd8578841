package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrHardwareFault matches every *HardwareFault via errors.Is.
	ErrHardwareFault = errors.New("hardware fault")
	// ErrNotReady is returned by operations that need a successful Setup.
	ErrNotReady = errors.New("terminal: not set up")
	// ErrAlreadySetUp is returned by Setup once the controller is ready.
	ErrAlreadySetUp = errors.New("terminal: already set up")
	// ErrShutDown is returned by every operation after Shutdown.
	ErrShutDown = errors.New("terminal: shut down")
)

// HardwareFault reports a failed pin configuration, read or write.
type HardwareFault struct {
	Op  string // configure, read, assert, deassert
	Pin int
	Err error
}

func (e *HardwareFault) Error() string {
	return fmt.Sprintf("hardware fault: %s pin %d: %v", e.Op, e.Pin, e.Err)
}

func (e *HardwareFault) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrHardwareFault) true for any HardwareFault.
func (e *HardwareFault) Is(target error) bool {
	return target == ErrHardwareFault
}
