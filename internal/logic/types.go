// Package logic contains pure bookkeeping for terminal state events.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the logical state of the terminal.
type State string

const (
	StateOn      State = "ON"
	StateOff     State = "OFF"
	StateUnknown State = "UNKNOWN"
)

// StateOf converts a logical value to a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// EventType represents a state transition event.
type EventType string

const (
	EventOn  EventType = "TERMINAL_ON"
	EventOff EventType = "TERMINAL_OFF"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	State     State
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	On  int
	Off int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	State     State
	Counts    EventCounts
}
