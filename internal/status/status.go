// Package status provides a thread-safe status tracker for the jema-terminal
// daemon. It is read by the HTTP handlers and rendered into lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/mobakitch/jema-terminal/internal/logic"
)

// NetworkInfo contains network state written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Name            string
	MonitorPin      int
	MonitorInverted bool
	ControlPin      int
	PulseMs         int64
	HeartbeatMs     int64
	ResyncMs        int64
	Backend         string
	Broker          string
	HTTPAddr        string
	HomeKit         bool
	HistoryPath     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State         logic.State
	Controller    string // terminal lifecycle state
	Counts        logic.EventCounts
	LastChange    time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the terminal state is known.
func (s Snapshot) Ready() bool {
	return s.State == logic.StateOn || s.State == logic.StateOff
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:      logic.StateUnknown,
			Controller: "UNINITIALIZED",
			StartTime:  startTime,
			Config:     cfg,
		},
		now: time.Now,
	}
}

// Update sets the terminal state, event counts and time of last change.
func (t *Tracker) Update(state logic.State, counts logic.EventCounts, lastChange time.Time) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Counts = counts
	t.snap.LastChange = lastChange
	t.mu.Unlock()
}

// SetController sets the controller lifecycle state name.
func (t *Tracker) SetController(state string) {
	t.mu.Lock()
	t.snap.Controller = state
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
