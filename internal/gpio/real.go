//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// ChipPins drives GPIO lines through the Linux GPIO character device.
//
// Line.Close waits for the line's event goroutine, which runs dispatch, so
// lines are closed with mu released and dispatch only takes subMu.
type ChipPins struct {
	mu       sync.Mutex
	chip     *gpiocdev.Chip
	debounce time.Duration
	lines    map[int]*gpiocdev.Line
	dirs     map[int]Direction
	closed   bool

	subMu sync.RWMutex
	subs  handlerSet
}

// NewChipPins opens the named chip. A non-zero debounce is applied by the
// kernel to every edge-enabled input.
func NewChipPins(chip string, debounce time.Duration) (*ChipPins, error) {
	if chip == "" {
		chip = DefaultChip
	}
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &ChipPins{
		chip:     c,
		debounce: debounce,
		lines:    make(map[int]*gpiocdev.Line),
		dirs:     make(map[int]Direction),
	}, nil
}

// Configure requests the line. A line that is already held is released and
// requested again, since the event handler cannot be changed in place.
func (p *ChipPins) Configure(pin int, dir Direction, edge Edge) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	old := p.lines[pin]
	delete(p.lines, pin)
	delete(p.dirs, pin)
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}

	var opts []gpiocdev.LineReqOption
	switch dir {
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		// Pull-down matches Pi boot defaults.
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullDown)
		if edge == EdgeBoth {
			opts = append(opts, gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(p.dispatch))
			if p.debounce > 0 {
				opts = append(opts, gpiocdev.WithDebounce(p.debounce))
			}
		}
	}

	line, err := p.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request %s pin %d: %w", dir, pin, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		line.Close()
		return ErrClosed
	}
	p.lines[pin] = line
	p.dirs[pin] = dir
	p.mu.Unlock()
	return nil
}

// Read returns the raw level of the line.
func (p *ChipPins) Read(pin int) (bool, error) {
	line, _, err := p.line(pin)
	if err != nil {
		return false, err
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v != 0, nil
}

// Write drives an output line.
func (p *ChipPins) Write(pin int, value bool) error {
	line, dir, err := p.line(pin)
	if err != nil {
		return err
	}
	if dir != Output {
		return fmt.Errorf("write pin %d: %w", pin, ErrNotOutput)
	}
	v := 0
	if value {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Subscribe registers h for edge events.
func (p *ChipPins) Subscribe(h EdgeHandler) func() {
	p.subMu.Lock()
	id := p.subs.add(h)
	p.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subMu.Lock()
			p.subs.remove(id)
			p.subMu.Unlock()
		})
	}
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults)
// before closing so the relay driver is not left asserted across a reboot.
func (p *ChipPins) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	lines := p.lines
	p.lines = nil
	p.mu.Unlock()

	var errs []error
	for pin, line := range lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	if p.chip != nil {
		if err := p.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (p *ChipPins) line(pin int) (*gpiocdev.Line, Direction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, 0, ErrClosed
	}
	line, ok := p.lines[pin]
	if !ok {
		return nil, 0, fmt.Errorf("pin %d: %w", pin, ErrNotConfigured)
	}
	return line, p.dirs[pin], nil
}

// dispatch runs on the gpiocdev event goroutine.
func (p *ChipPins) dispatch(evt gpiocdev.LineEvent) {
	p.subMu.RLock()
	handlers := p.subs.snapshot()
	p.subMu.RUnlock()

	rising := evt.Type == gpiocdev.LineEventRisingEdge
	for _, h := range handlers {
		h(evt.Offset, rising)
	}
}
