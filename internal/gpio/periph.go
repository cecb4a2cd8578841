package gpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphPins drives GPIO through periph.io. Edge events come from one
// watcher goroutine per edge-enabled input.
type PeriphPins struct {
	mu       sync.Mutex
	pins     map[int]gpio.PinIO
	dirs     map[int]Direction
	watchers map[int]chan struct{}
	subs     handlerSet
	wg       sync.WaitGroup
	closed   bool
}

// NewPeriphPins initialises the periph host drivers.
func NewPeriphPins() (*PeriphPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	return &PeriphPins{
		pins:     make(map[int]gpio.PinIO),
		dirs:     make(map[int]Direction),
		watchers: make(map[int]chan struct{}),
	}, nil
}

// Configure sets the pin direction. Pins are addressed by BCM number.
func (p *PeriphPins) Configure(pin int, dir Direction, edge Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	io := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if io == nil {
		return fmt.Errorf("request %s pin %d: no such pin", dir, pin)
	}
	p.stopWatcherLocked(pin, io)

	switch dir {
	case Output:
		if err := io.Out(gpio.Low); err != nil {
			return fmt.Errorf("request output pin %d: %w", pin, err)
		}
	default:
		e := gpio.NoEdge
		if edge == EdgeBoth {
			e = gpio.BothEdges
		}
		if err := io.In(gpio.PullDown, e); err != nil {
			return fmt.Errorf("request input pin %d: %w", pin, err)
		}
		if edge == EdgeBoth {
			stop := make(chan struct{})
			p.watchers[pin] = stop
			p.wg.Add(1)
			go p.watch(pin, io, stop)
		}
	}

	p.pins[pin] = io
	p.dirs[pin] = dir
	return nil
}

// Read returns the raw level of the pin.
func (p *PeriphPins) Read(pin int) (bool, error) {
	io, _, err := p.pin(pin)
	if err != nil {
		return false, err
	}
	return io.Read() == gpio.High, nil
}

// Write drives an output pin.
func (p *PeriphPins) Write(pin int, value bool) error {
	io, dir, err := p.pin(pin)
	if err != nil {
		return err
	}
	if dir != Output {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotOutput)
	}
	if err := io.Out(gpio.Level(value)); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Subscribe registers h for edge events.
func (p *PeriphPins) Subscribe(h EdgeHandler) func() {
	p.mu.Lock()
	id := p.subs.add(h)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.subs.remove(id)
			p.mu.Unlock()
		})
	}
}

// Close stops the edge watchers. Pins keep their last configuration.
func (p *PeriphPins) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for pin, io := range p.pins {
		p.stopWatcherLocked(pin, io)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *PeriphPins) pin(pin int) (gpio.PinIO, Direction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, 0, ErrClosed
	}
	io, ok := p.pins[pin]
	if !ok {
		return nil, 0, fmt.Errorf("pin %d: %w", pin, ErrNotConfigured)
	}
	return io, p.dirs[pin], nil
}

// stopWatcherLocked signals the pin's watcher and unblocks WaitForEdge.
func (p *PeriphPins) stopWatcherLocked(pin int, io gpio.PinIO) {
	stop, ok := p.watchers[pin]
	if !ok {
		return
	}
	delete(p.watchers, pin)
	close(stop)
	io.Halt()
}

func (p *PeriphPins) watch(pin int, io gpio.PinIO, stop <-chan struct{}) {
	defer p.wg.Done()
	for {
		edged := io.WaitForEdge(-1)
		select {
		case <-stop:
			return
		default:
		}
		if !edged {
			continue
		}

		level := io.Read() == gpio.High
		p.mu.Lock()
		handlers := p.subs.snapshot()
		p.mu.Unlock()
		for _, h := range handlers {
			h(pin, level)
		}
	}
}
