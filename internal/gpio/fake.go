package gpio

import (
	"sync"
	"time"
)

// Write records a single Write call on a FakePins.
type Write struct {
	Pin   int
	Value bool
	At    time.Time
}

// PinConfig records the last Configure call for a pin.
type PinConfig struct {
	Dir  Direction
	Edge Edge
}

// FakePins is a test double with scripted levels and recorded writes.
// Safe for concurrent use.
type FakePins struct {
	mu sync.Mutex

	levels  map[int]bool
	configs map[int]PinConfig
	writes  []Write
	subs    handlerSet

	configureErr error
	readErr      error
	writeErr     error
	failOnce     map[Write]error // At is zero

	latches map[int]int // control -> monitor
	closed  bool
	now     func() time.Time
}

// NewFakePins creates a FakePins with every pin low.
func NewFakePins() *FakePins {
	return &FakePins{
		levels:   make(map[int]bool),
		configs:  make(map[int]PinConfig),
		failOnce: make(map[Write]error),
		latches:  make(map[int]int),
		now:      time.Now,
	}
}

// SetLevel sets the raw level a subsequent Read of pin returns.
// It does not emit an edge.
func (f *FakePins) SetLevel(pin int, value bool) {
	f.mu.Lock()
	f.levels[pin] = value
	f.mu.Unlock()
}

// Level returns the current raw level of pin.
func (f *FakePins) Level(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Emit sets the level of pin and delivers an edge event synchronously to
// every subscriber, whether or not the level actually changed.
func (f *FakePins) Emit(pin int, value bool) {
	f.mu.Lock()
	f.levels[pin] = value
	handlers := f.subs.snapshot()
	f.mu.Unlock()

	for _, h := range handlers {
		h(pin, value)
	}
}

// Latch simulates a latching relay: each rising write on control toggles
// the level of monitor and emits an edge for it.
func (f *FakePins) Latch(control, monitor int) {
	f.mu.Lock()
	f.latches[control] = monitor
	f.mu.Unlock()
}

// SetConfigureError makes every Configure call fail with err (nil clears).
func (f *FakePins) SetConfigureError(err error) {
	f.mu.Lock()
	f.configureErr = err
	f.mu.Unlock()
}

// SetReadError makes every Read call fail with err (nil clears).
func (f *FakePins) SetReadError(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

// SetWriteError makes every Write call fail with err (nil clears).
func (f *FakePins) SetWriteError(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// FailWriteOnce makes the next Write of value to pin fail with err.
func (f *FakePins) FailWriteOnce(pin int, value bool, err error) {
	f.mu.Lock()
	f.failOnce[Write{Pin: pin, Value: value}] = err
	f.mu.Unlock()
}

// Writes returns a copy of the recorded writes, oldest first.
func (f *FakePins) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// WritesTo returns the recorded writes to pin.
func (f *FakePins) WritesTo(pin int) []Write {
	var out []Write
	for _, w := range f.Writes() {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// Config returns the last configuration of pin.
func (f *FakePins) Config(pin int) (PinConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.configs[pin]
	return c, ok
}

// Subscribers returns the number of live subscriptions.
func (f *FakePins) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs.order)
}

// Closed reports whether Close was called.
func (f *FakePins) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Configure records the pin configuration. Outputs are driven low.
func (f *FakePins) Configure(pin int, dir Direction, edge Edge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.configureErr != nil {
		return f.configureErr
	}
	f.configs[pin] = PinConfig{Dir: dir, Edge: edge}
	if dir == Output {
		f.levels[pin] = false
	}
	return nil
}

// Read returns the scripted level of pin.
func (f *FakePins) Read(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrClosed
	}
	if f.readErr != nil {
		return false, f.readErr
	}
	if _, ok := f.configs[pin]; !ok {
		return false, ErrNotConfigured
	}
	return f.levels[pin], nil
}

// Write records the write and updates the pin level.
func (f *FakePins) Write(pin int, value bool) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.writeErr != nil {
		f.mu.Unlock()
		return f.writeErr
	}
	key := Write{Pin: pin, Value: value}
	if err, ok := f.failOnce[key]; ok {
		delete(f.failOnce, key)
		f.mu.Unlock()
		return err
	}
	c, ok := f.configs[pin]
	if !ok {
		f.mu.Unlock()
		return ErrNotConfigured
	}
	if c.Dir != Output {
		f.mu.Unlock()
		return ErrNotOutput
	}

	rising := value && !f.levels[pin]
	f.levels[pin] = value
	f.writes = append(f.writes, Write{Pin: pin, Value: value, At: f.now()})

	monitor, latched := f.latches[pin]
	if !latched || !rising {
		f.mu.Unlock()
		return nil
	}
	next := !f.levels[monitor]
	f.mu.Unlock()

	f.Emit(monitor, next)
	return nil
}

// Subscribe registers h for edge events delivered by Emit.
func (f *FakePins) Subscribe(h EdgeHandler) func() {
	f.mu.Lock()
	id := f.subs.add(h)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.subs.remove(id)
		f.mu.Unlock()
	}
}

// Close marks the pins as closed.
func (f *FakePins) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
