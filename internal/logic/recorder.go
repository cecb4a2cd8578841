package logic

import "time"

// Recorder turns controller change notifications into events and keeps
// counts and heartbeat timing.
type Recorder struct {
	state         State
	baselined     bool
	startTime     time.Time
	lastChange    time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// NewRecorder creates a recorder. The startTime is used for calculating
// uptime in heartbeat events.
func NewRecorder(startTime time.Time) *Recorder {
	return &Recorder{
		state:         StateUnknown,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Baseline records the value read at setup. It produces no event.
func (r *Recorder) Baseline(on bool, now time.Time) {
	r.state = StateOf(on)
	r.baselined = true
	r.lastChange = now
}

// Process records a new value and returns the event to publish, or nil if
// the value is unchanged. A value seen before Baseline becomes the baseline.
func (r *Recorder) Process(on bool, now time.Time) *Event {
	next := StateOf(on)
	if !r.baselined {
		r.Baseline(on, now)
		return nil
	}
	if next == r.state {
		return nil
	}

	r.state = next
	r.lastChange = now

	event := &Event{Timestamp: now, State: next}
	if on {
		event.Type = EventOn
		r.eventCounts.On++
	} else {
		event.Type = EventOff
		r.eventCounts.Off++
	}
	return event
}

// IsBaselined returns whether the initial state has been recorded.
func (r *Recorder) IsBaselined() bool {
	return r.baselined
}

// CurrentState returns the last recorded state.
func (r *Recorder) CurrentState() State {
	return r.state
}

// LastChange returns when the state was last recorded as changing.
func (r *Recorder) LastChange() time.Time {
	return r.lastChange
}

// EventCountsSnapshot returns a copy of the event counts.
func (r *Recorder) EventCountsSnapshot() EventCounts {
	return r.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (r *Recorder) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !r.baselined {
		return nil
	}

	if now.Sub(r.lastHeartbeat) < interval {
		return nil
	}

	r.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(r.startTime),
		State:     r.state,
		Counts:    r.eventCounts,
	}
}
