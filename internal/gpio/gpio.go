// Package gpio provides pin configuration, level access and edge events with
// hardware abstraction.
// The real implementations use the Linux GPIO character device or periph.io.
// The fake implementation allows testing without hardware.
package gpio

import "errors"

// Direction selects whether a pin is read or driven.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Edge selects which level transitions on an input pin produce events.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeBoth
)

// EdgeHandler receives the raw electrical level of a pin after a transition.
// true = high.
type EdgeHandler func(pin int, value bool)

// Pins is the capability the terminal controller drives.
//
// Implementations deliver at most one edge event per physical transition
// (any debouncing happens here, not in callers) and make a completed Write
// visible to a subsequent Read of the same pin.
type Pins interface {
	// Configure requests the pin in the given direction. Output pins start
	// deasserted (low). Edge is ignored for outputs.
	Configure(pin int, dir Direction, edge Edge) error

	// Read returns the raw level of a configured pin.
	Read(pin int) (bool, error)

	// Write drives a configured output pin.
	Write(pin int, value bool) error

	// Subscribe registers h for edge events on every edge-enabled pin.
	// The returned func removes the registration.
	Subscribe(h EdgeHandler) (unsubscribe func())

	// Close releases GPIO resources.
	Close() error
}

// Pin defaults (BCM numbering)
const (
	DefaultMonitorPin = 23
	DefaultControlPin = 24
)

var (
	// ErrNotConfigured is returned when a pin is used before Configure.
	ErrNotConfigured = errors.New("gpio: pin not configured")
	// ErrNotOutput is returned when writing a pin configured as input.
	ErrNotOutput = errors.New("gpio: pin is not an output")
	// ErrClosed is returned by any operation after Close.
	ErrClosed = errors.New("gpio: closed")
)

// handlerSet is the subscription list shared by the backends.
// Not safe for concurrent use: callers hold their own lock.
type handlerSet struct {
	next     int
	handlers map[int]EdgeHandler
	order    []int
}

func (s *handlerSet) add(h EdgeHandler) int {
	if s.handlers == nil {
		s.handlers = make(map[int]EdgeHandler)
	}
	id := s.next
	s.next++
	s.handlers[id] = h
	s.order = append(s.order, id)
	return id
}

func (s *handlerSet) remove(id int) {
	if _, ok := s.handlers[id]; !ok {
		return
	}
	delete(s.handlers, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// snapshot returns the handlers in subscription order so they can be
// invoked after the caller's lock is released.
func (s *handlerSet) snapshot() []EdgeHandler {
	out := make([]EdgeHandler, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.handlers[id])
	}
	return out
}
