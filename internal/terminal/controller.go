// Package terminal controls a latching relay through two pins: a monitor
// input reporting the relay position and a control output that toggles the
// relay when pulsed.
package terminal

import (
	"context"
	"sync"
	"time"

	"github.com/mobakitch/jema-terminal/internal/gpio"
	"github.com/mobakitch/jema-terminal/internal/logger"
)

// Config is fixed for the life of a Controller. Pin numbers and the pulse
// duration are validated by the config loader.
type Config struct {
	MonitorPin      int
	MonitorInverted bool // raw high = logical OFF
	ControlPin      int
	PulseDuration   time.Duration
}

// State is the controller lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
	Pulsing
	ShutDown
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Pulsing:
		return "PULSING"
	case ShutDown:
		return "SHUTDOWN"
	default:
		return "UNINITIALIZED"
	}
}

// Option customises a Controller.
type Option func(*Controller)

// WithSleep replaces time.Sleep for the pulse hold.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Controller) {
		c.sleep = sleep
	}
}

// Controller owns the pins, the cached relay value and the pulse queue.
//
// Set and Refresh are serialized in arrival order so pulses never overlap.
// Edge events are not serialized against an in-flight pulse: both paths
// write the cached value with a normalized level and converge on the
// physical state once the edge for the pulse arrives.
type Controller struct {
	pins  gpio.Pins
	cfg   Config
	sleep func(time.Duration)

	mu            sync.Mutex
	state         State
	current       bool
	pulseInFlight bool
	busy          bool
	waiters       []chan struct{}
	observers     []func(bool)
	unsubscribe   func()
	logCtx        context.Context
}

// New creates a controller. Nothing touches the hardware until Setup.
func New(pins gpio.Pins, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		pins:   pins,
		cfg:    cfg,
		sleep:  time.Sleep,
		logCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Setup configures both pins, subscribes to monitor edges and reads the
// initial relay position. A failed Setup leaves the controller
// uninitialized and may be retried.
func (c *Controller) Setup(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Ready, Pulsing:
		c.mu.Unlock()
		return ErrAlreadySetUp
	case ShutDown:
		c.mu.Unlock()
		return ErrShutDown
	}
	c.mu.Unlock()

	ctx = logger.WithKV(logger.WithName(ctx, "terminal"),
		"monitor_pin", c.cfg.MonitorPin, "control_pin", c.cfg.ControlPin)

	if err := c.pins.Configure(c.cfg.MonitorPin, gpio.Input, gpio.EdgeBoth); err != nil {
		return c.fault(ctx, "configure", c.cfg.MonitorPin, err)
	}
	if err := c.pins.Configure(c.cfg.ControlPin, gpio.Output, gpio.EdgeNone); err != nil {
		return c.fault(ctx, "configure", c.cfg.ControlPin, err)
	}
	if err := c.pins.Write(c.cfg.ControlPin, false); err != nil {
		return c.fault(ctx, "deassert", c.cfg.ControlPin, err)
	}

	unsubscribe := c.pins.Subscribe(c.onEdge)

	// Edges are dropped until state is Ready; holding mu across the read
	// makes any edge delivered after it apply on top of the read value.
	c.mu.Lock()
	raw, err := c.pins.Read(c.cfg.MonitorPin)
	if err != nil {
		c.mu.Unlock()
		unsubscribe()
		return c.fault(ctx, "read", c.cfg.MonitorPin, err)
	}
	c.current = c.normalize(raw)
	c.state = Ready
	c.unsubscribe = unsubscribe
	c.logCtx = ctx
	value := c.current
	c.mu.Unlock()

	logger.InfoKV(ctx, "terminal ready",
		"value", value, "inverted", c.cfg.MonitorInverted, "pulse", c.cfg.PulseDuration)
	return nil
}

// Set drives the relay to desired and returns the resulting value.
//
// Calls queue behind any active Set or Refresh; ctx bounds only that wait.
// If the monitor pin already reports desired no pulse is issued. Once the
// control pin is asserted the pulse always runs its full duration.
// On a HardwareFault the cached value is left unchanged.
func (c *Controller) Set(ctx context.Context, desired bool) (bool, error) {
	if err := c.acquire(ctx); err != nil {
		return c.Value(), err
	}
	defer c.release()

	logCtx, err := c.ready()
	if err != nil {
		return c.Value(), err
	}

	raw, err := c.pins.Read(c.cfg.MonitorPin)
	if err != nil {
		return c.Value(), c.fault(logCtx, "read", c.cfg.MonitorPin, err)
	}
	if c.normalize(raw) == desired {
		logger.DebugKV(logCtx, "already in desired state", "value", desired)
		return c.fold(logCtx, desired, "read"), nil
	}

	if err := c.pulse(logCtx); err != nil {
		return c.Value(), err
	}

	// The relay latches with the pulse; a later edge only confirms this.
	return c.fold(logCtx, desired, "pulse"), nil
}

// Refresh re-reads the monitor pin and folds the result into the cached
// value, notifying observers if it changed. It queues like Set.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	if err := c.acquire(ctx); err != nil {
		return c.Value(), err
	}
	defer c.release()

	logCtx, err := c.ready()
	if err != nil {
		return c.Value(), err
	}

	raw, err := c.pins.Read(c.cfg.MonitorPin)
	if err != nil {
		return c.Value(), c.fault(logCtx, "read", c.cfg.MonitorPin, err)
	}
	return c.fold(logCtx, c.normalize(raw), "refresh"), nil
}

// OnChange registers fn to receive every change of the cached value.
// Observers run synchronously, in registration order, on the goroutine that
// detected the change, so they must not block.
func (c *Controller) OnChange(fn func(bool)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Shutdown releases the edge subscription. Pins keep their configuration.
// An in-flight pulse still completes; queued calls fail with ErrShutDown.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.state == ShutDown {
		c.mu.Unlock()
		return
	}
	c.state = ShutDown
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	logCtx := c.logCtx
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	logger.InfoKV(logCtx, "terminal shut down")
}

// Value returns the cached relay value.
func (c *Controller) Value() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PulseInFlight reports whether the control pin is between assert and
// deassert.
func (c *Controller) PulseInFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pulseInFlight
}

func (c *Controller) onEdge(pin int, raw bool) {
	if pin != c.cfg.MonitorPin {
		return
	}
	value := c.normalize(raw)

	c.mu.Lock()
	if c.state != Ready && c.state != Pulsing {
		c.mu.Unlock()
		return
	}
	logCtx := c.logCtx
	c.mu.Unlock()

	c.fold(logCtx, value, "edge")
}

// pulse runs assert, hold, deassert. pulseInFlight is cleared on every
// return path.
func (c *Controller) pulse(ctx context.Context) error {
	c.mu.Lock()
	c.pulseInFlight = true
	if c.state == Ready {
		c.state = Pulsing
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pulseInFlight = false
		if c.state == Pulsing {
			c.state = Ready
		}
		c.mu.Unlock()
	}()

	logger.DebugKV(ctx, "pulse start", "duration", c.cfg.PulseDuration)

	if err := c.pins.Write(c.cfg.ControlPin, true); err != nil {
		// Line level is unknown after a failed assert; try to leave it low.
		_ = c.pins.Write(c.cfg.ControlPin, false)
		return c.fault(ctx, "assert", c.cfg.ControlPin, err)
	}

	c.sleep(c.cfg.PulseDuration)

	if err := c.pins.Write(c.cfg.ControlPin, false); err != nil {
		return c.fault(ctx, "deassert", c.cfg.ControlPin, err)
	}

	logger.DebugKV(ctx, "pulse complete")
	return nil
}

// fold stores value and notifies observers if it differs from the cache.
func (c *Controller) fold(ctx context.Context, value bool, source string) bool {
	c.mu.Lock()
	changed := c.current != value
	c.current = value
	var observers []func(bool)
	if changed && c.state != ShutDown {
		observers = make([]func(bool), len(c.observers))
		copy(observers, c.observers)
	}
	c.mu.Unlock()

	if !changed {
		return value
	}

	logger.InfoKV(ctx, "terminal changed", "value", value, "source", source)
	for _, fn := range observers {
		fn(value)
	}
	return value
}

func (c *Controller) normalize(raw bool) bool {
	return raw != c.cfg.MonitorInverted
}

func (c *Controller) ready() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Uninitialized:
		return c.logCtx, ErrNotReady
	case ShutDown:
		return c.logCtx, ErrShutDown
	}
	return c.logCtx, nil
}

func (c *Controller) fault(ctx context.Context, op string, pin int, err error) error {
	f := &HardwareFault{Op: op, Pin: pin, Err: err}
	logger.ErrorKV(ctx, "hardware fault", "op", op, "pin", pin, "error", err)
	return f
}

// acquire takes the operation token, queueing behind earlier callers.
func (c *Controller) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.busy {
		c.busy = true
		c.mu.Unlock()
		return nil
	}
	turn := make(chan struct{})
	c.waiters = append(c.waiters, turn)
	c.mu.Unlock()

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		for i, w := range c.waiters {
			if w == turn {
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				c.mu.Unlock()
				return ctx.Err()
			}
		}
		c.mu.Unlock()
		// The token was handed over as ctx expired: pass it on.
		c.release()
		return ctx.Err()
	}
}

// release hands the token to the longest-waiting caller.
func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		c.busy = false
		return
	}
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	close(next)
}
