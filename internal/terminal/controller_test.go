package terminal

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobakitch/jema-terminal/internal/gpio"
)

const (
	monitorPin = 23
	controlPin = 24
)

func scenarioConfig() Config {
	return Config{
		MonitorPin:      monitorPin,
		MonitorInverted: true,
		ControlPin:      controlPin,
		PulseDuration:   1000 * time.Millisecond,
	}
}

// recordingSleep returns immediately and records the requested durations.
type recordingSleep struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *recordingSleep) sleep(d time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, d)
	r.mu.Unlock()
}

func (r *recordingSleep) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}

// gateSleep blocks every pulse hold until the test releases it.
type gateSleep struct {
	entered chan time.Duration
	release chan struct{}
}

func newGateSleep() *gateSleep {
	return &gateSleep{
		entered: make(chan time.Duration, 16),
		release: make(chan struct{}),
	}
}

func (g *gateSleep) sleep(d time.Duration) {
	g.entered <- d
	<-g.release
}

// notifications collects observer calls.
type notifications struct {
	mu     sync.Mutex
	values []bool
}

func (n *notifications) add(v bool) {
	n.mu.Lock()
	n.values = append(n.values, v)
	n.mu.Unlock()
}

func (n *notifications) all() []bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]bool(nil), n.values...)
}

func newReady(t *testing.T, pins *gpio.FakePins, cfg Config, opts ...Option) (*Controller, *notifications) {
	t.Helper()
	c := New(pins, cfg, opts...)
	require.NoError(t, c.Setup(context.Background()))
	n := &notifications{}
	c.OnChange(n.add)
	return c, n
}

// pulses returns the control writes issued after Setup's initial deassert.
func pulses(pins *gpio.FakePins) []gpio.Write {
	w := pins.WritesTo(controlPin)
	if len(w) == 0 {
		return nil
	}
	return w[1:]
}

func (c *Controller) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func TestSetupConfiguresPinsAndReadsInitialValue(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)

	c := New(pins, scenarioConfig())
	require.Equal(t, Uninitialized, c.State())
	require.NoError(t, c.Setup(context.Background()))

	assert.Equal(t, Ready, c.State())
	assert.False(t, c.Value(), "raw high on an inverted monitor is OFF")

	mon, ok := pins.Config(monitorPin)
	require.True(t, ok)
	assert.Equal(t, gpio.PinConfig{Dir: gpio.Input, Edge: gpio.EdgeBoth}, mon)

	ctl, ok := pins.Config(controlPin)
	require.True(t, ok)
	assert.Equal(t, gpio.Output, ctl.Dir)

	writes := pins.WritesTo(controlPin)
	require.Len(t, writes, 1)
	assert.False(t, writes[0].Value, "control starts deasserted")
	assert.Equal(t, 1, pins.Subscribers())
}

func TestSetupNonInverted(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)

	cfg := scenarioConfig()
	cfg.MonitorInverted = false
	c, _ := newReady(t, pins, cfg)

	assert.True(t, c.Value())
}

func TestSetupConfigureFailureIsRetryable(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetConfigureError(errors.New("line busy"))

	c := New(pins, scenarioConfig())
	err := c.Setup(context.Background())
	require.ErrorIs(t, err, ErrHardwareFault)

	var fault *HardwareFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "configure", fault.Op)
	assert.Equal(t, monitorPin, fault.Pin)
	assert.Equal(t, Uninitialized, c.State())

	_, err = c.Set(context.Background(), true)
	require.ErrorIs(t, err, ErrNotReady)

	pins.SetConfigureError(nil)
	require.NoError(t, c.Setup(context.Background()))
	assert.Equal(t, Ready, c.State())
}

func TestSetupReadFailureReleasesSubscription(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetReadError(errors.New("io error"))

	c := New(pins, scenarioConfig())
	err := c.Setup(context.Background())

	var fault *HardwareFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "read", fault.Op)
	assert.Equal(t, 0, pins.Subscribers())
	assert.Equal(t, Uninitialized, c.State())
}

func TestSetupTwice(t *testing.T) {
	c, _ := newReady(t, gpio.NewFakePins(), scenarioConfig())
	require.ErrorIs(t, c.Setup(context.Background()), ErrAlreadySetUp)
}

func TestSetScenarioPulse(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)
	sleeper := &recordingSleep{}

	c, n := newReady(t, pins, scenarioConfig(), WithSleep(sleeper.sleep))
	require.False(t, c.Value())

	got, err := c.Set(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, c.Value())

	p := pulses(pins)
	require.Len(t, p, 2)
	assert.True(t, p[0].Value)
	assert.False(t, p[1].Value)
	assert.Equal(t, []time.Duration{1000 * time.Millisecond}, sleeper.durations())

	assert.Equal(t, []bool{true}, n.all())
	assert.False(t, c.PulseInFlight())
	assert.Equal(t, Ready, c.State())
}

func TestSetNoPulseWhenAlreadyInState(t *testing.T) {
	pins := gpio.NewFakePins()
	sleeper := &recordingSleep{}
	c, n := newReady(t, pins, scenarioConfig(), WithSleep(sleeper.sleep))

	// Edge shows raw high: inverted, so OFF.
	pins.Emit(monitorPin, true)
	require.False(t, c.Value())

	got, err := c.Set(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, got)

	assert.Empty(t, pulses(pins))
	assert.Empty(t, sleeper.durations())
	assert.False(t, pins.Level(controlPin))
	assert.Equal(t, []bool{false}, n.all(), "only the edge notified")
}

func TestSetHoldsPulseForDuration(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)
	cfg := scenarioConfig()
	cfg.PulseDuration = 20 * time.Millisecond
	c, _ := newReady(t, pins, cfg)
	require.False(t, c.Value())

	got, err := c.Set(context.Background(), true)
	require.NoError(t, err)
	require.True(t, got)

	p := pulses(pins)
	require.Len(t, p, 2)
	assert.GreaterOrEqual(t, p[1].At.Sub(p[0].At), cfg.PulseDuration)
}

func TestSetResyncsMissedEdge(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)
	c, n := newReady(t, pins, scenarioConfig(), WithSleep(func(time.Duration) {}))
	require.False(t, c.Value())

	// Relay moved without an edge being delivered.
	pins.SetLevel(monitorPin, false)

	got, err := c.Set(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Empty(t, pulses(pins))
	assert.Equal(t, []bool{true}, n.all())
}

func TestDeassertFaultClearsInFlight(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)
	c, n := newReady(t, pins, scenarioConfig(), WithSleep(func(time.Duration) {}))

	pins.FailWriteOnce(controlPin, false, errors.New("write failed"))

	got, err := c.Set(context.Background(), true)
	require.ErrorIs(t, err, ErrHardwareFault)
	var fault *HardwareFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "deassert", fault.Op)

	assert.False(t, got, "cached value is unchanged on failure")
	assert.False(t, c.Value())
	assert.False(t, c.PulseInFlight())
	assert.Equal(t, Ready, c.State())
	assert.Empty(t, n.all())

	got, err = c.Set(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestAssertFaultAttemptsDeassert(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)
	c, _ := newReady(t, pins, scenarioConfig(), WithSleep(func(time.Duration) {}))

	pins.FailWriteOnce(controlPin, true, errors.New("write failed"))

	_, err := c.Set(context.Background(), true)
	var fault *HardwareFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "assert", fault.Op)

	p := pulses(pins)
	require.Len(t, p, 1)
	assert.False(t, p[0].Value)
	assert.False(t, c.PulseInFlight())
}

func TestSetReadFault(t *testing.T) {
	pins := gpio.NewFakePins()
	c, _ := newReady(t, pins, scenarioConfig())

	pins.SetReadError(errors.New("io error"))
	_, err := c.Set(context.Background(), true)
	require.ErrorIs(t, err, ErrHardwareFault)
	assert.Empty(t, pulses(pins))

	pins.SetReadError(nil)
	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
}

func TestEdgeInvertedNotifiesOnce(t *testing.T) {
	pins := gpio.NewFakePins()
	c, n := newReady(t, pins, scenarioConfig())
	require.True(t, c.Value(), "raw low on an inverted monitor is ON")

	pins.Emit(monitorPin, true)
	assert.False(t, c.Value())
	assert.Equal(t, []bool{false}, n.all())

	pins.Emit(monitorPin, true)
	assert.Equal(t, []bool{false}, n.all(), "no notification without a change")

	pins.Emit(controlPin, false)
	pins.Emit(5, false)
	assert.False(t, c.Value(), "edges on other pins are ignored")
	assert.Equal(t, []bool{false}, n.all())
}

func TestObserversRunInRegistrationOrder(t *testing.T) {
	pins := gpio.NewFakePins()
	c, _ := newReady(t, pins, scenarioConfig())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		c.OnChange(func(bool) { order = append(order, i) })
	}

	pins.Emit(monitorPin, true)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEdgeDuringPulseConverges(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.SetLevel(monitorPin, true)
	pins.Latch(controlPin, monitorPin)
	c, n := newReady(t, pins, scenarioConfig(), WithSleep(func(time.Duration) {}))

	got, err := c.Set(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, c.Value())
	assert.False(t, pins.Level(monitorPin), "relay latched: inverted monitor reads low")
	assert.Equal(t, []bool{true}, n.all(), "edge and optimistic update notify once")

	got, err = c.Set(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, []bool{true, false}, n.all())
}

func TestConcurrentSetsNeverOverlap(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.Latch(controlPin, monitorPin)

	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	sleep := func(time.Duration) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	cfg := scenarioConfig()
	cfg.PulseDuration = time.Millisecond
	c, _ := newReady(t, pins, cfg, WithSleep(sleep))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		desired := rand.Intn(2) == 0
		go func() {
			defer wg.Done()
			got, err := c.Set(context.Background(), desired)
			assert.NoError(t, err)
			assert.Equal(t, desired, got)
		}()
	}
	wg.Wait()

	assert.False(t, overlap)

	// Assertion intervals are disjoint: strict assert/deassert alternation.
	for i, w := range pulses(pins) {
		assert.Equal(t, i%2 == 0, w.Value, "write %d", i)
	}
	assert.Equal(t, c.Value(), !pins.Level(monitorPin))
	assert.False(t, c.PulseInFlight())
}

func TestSetQueuesInArrivalOrder(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.Latch(controlPin, monitorPin)
	gate := newGateSleep()
	c, _ := newReady(t, pins, scenarioConfig(), WithSleep(gate.sleep))
	require.True(t, c.Value())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		c.Set(context.Background(), false)
	}()
	<-gate.entered
	require.True(t, c.PulseInFlight())
	require.Equal(t, Pulsing, c.State())

	go func() {
		defer wg.Done()
		c.Set(context.Background(), true)
	}()
	require.Eventually(t, func() bool { return c.queued() == 1 }, time.Second, time.Millisecond)

	go func() {
		defer wg.Done()
		c.Set(context.Background(), false)
	}()
	require.Eventually(t, func() bool { return c.queued() == 2 }, time.Second, time.Millisecond)

	close(gate.release)
	wg.Wait()

	// In arrival order every call toggles the relay: three pulses ending OFF.
	// Any reordering lets the third call find the relay already OFF.
	assert.Len(t, pulses(pins), 6)
	assert.False(t, c.Value())
}

func TestSetContextCanceledWhileQueued(t *testing.T) {
	pins := gpio.NewFakePins()
	pins.Latch(controlPin, monitorPin)
	gate := newGateSleep()
	c, _ := newReady(t, pins, scenarioConfig(), WithSleep(gate.sleep))

	done := make(chan struct{})
	go func() {
		c.Set(context.Background(), false)
		close(done)
	}()
	<-gate.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Set(ctx, true)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.queued())

	close(gate.release)
	<-done

	// Pulse count: only the first Set pulsed.
	assert.Len(t, pulses(pins), 2)

	got, err := c.Set(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRefresh(t *testing.T) {
	pins := gpio.NewFakePins()
	c, n := newReady(t, pins, scenarioConfig())

	pins.SetLevel(monitorPin, true)
	got, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, []bool{false}, n.all())
	assert.Empty(t, pulses(pins))
}

func TestShutdown(t *testing.T) {
	pins := gpio.NewFakePins()
	c, n := newReady(t, pins, scenarioConfig())

	c.Shutdown()
	c.Shutdown()

	assert.Equal(t, ShutDown, c.State())
	assert.Equal(t, 0, pins.Subscribers())

	_, err := c.Set(context.Background(), false)
	require.ErrorIs(t, err, ErrShutDown)
	_, err = c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrShutDown)
	require.ErrorIs(t, c.Setup(context.Background()), ErrShutDown)

	assert.Empty(t, pulses(pins))
	assert.Empty(t, n.all())
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Uninitialized: "UNINITIALIZED",
		Ready:         "READY",
		Pulsing:       "PULSING",
		ShutDown:      "SHUTDOWN",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}
