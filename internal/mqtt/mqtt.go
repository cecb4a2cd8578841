// Package mqtt provides MQTT publishing and command delivery with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mobakitch/jema-terminal/internal/logic"
)

// DefaultTopicPrefix is the root of every topic the daemon uses.
const DefaultTopicPrefix = "home/jema-terminal"

// Topics holds the topic names derived from a prefix.
type Topics struct {
	Events  string // terminal state changes
	System  string // lifecycle events
	Command string // ON/OFF commands
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Events:  prefix + "/events",
		System:  prefix + "/system",
		Command: prefix + "/set",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a terminal event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler receives a parsed ON/OFF command.
type CommandHandler func(on bool)

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Terminal TerminalPayload `json:"terminal"`
}

// TerminalPayload contains the terminal event details.
type TerminalPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a terminal event.
func FormatPayload(event logic.Event) ([]byte, error) {
	payload := Payload{
		Terminal: TerminalPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			State:     string(event.State),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}

// ErrBadCommand is returned by ParseCommand for unrecognised payloads.
var ErrBadCommand = errors.New("unrecognised command")

// ParseCommand accepts ON/OFF, true/false and 1/0, case-insensitively.
func ParseCommand(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrBadCommand, payload)
	}
}
