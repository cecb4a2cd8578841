//go:build linux

package gpio

import (
	"errors"
	"testing"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// newChiplessPins returns ChipPins without an open chip, enough to exercise
// the locking around dispatch and Close.
func newChiplessPins() *ChipPins {
	return &ChipPins{
		lines: make(map[int]*gpiocdev.Line),
		dirs:  make(map[int]Direction),
	}
}

// Line.Close blocks until the event goroutine returns, so dispatch must not
// need mu, which Configure and Close hold while detaching lines.
func TestChipPinsDispatchDoesNotTakeMu(t *testing.T) {
	p := newChiplessPins()

	got := make(chan bool, 1)
	p.Subscribe(func(pin int, value bool) {
		if pin == 23 {
			got <- value
		}
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	go p.dispatch(gpiocdev.LineEvent{Offset: 23, Type: gpiocdev.LineEventRisingEdge})

	select {
	case v := <-got:
		if !v {
			t.Error("rising edge: got low, want high")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on mu")
	}
}

func TestChipPinsDispatchFallingEdge(t *testing.T) {
	p := newChiplessPins()

	var got []bool
	unsubscribe := p.Subscribe(func(_ int, value bool) { got = append(got, value) })

	p.dispatch(gpiocdev.LineEvent{Offset: 23, Type: gpiocdev.LineEventFallingEdge})
	unsubscribe()
	p.dispatch(gpiocdev.LineEvent{Offset: 23, Type: gpiocdev.LineEventRisingEdge})

	if len(got) != 1 || got[0] {
		t.Errorf("got %v, want [false]", got)
	}
}

func TestChipPinsClose(t *testing.T) {
	p := newChiplessPins()

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := p.Configure(23, Input, EdgeBoth); !errors.Is(err, ErrClosed) {
		t.Errorf("Configure after Close: got %v, want ErrClosed", err)
	}
	if _, err := p.Read(23); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close: got %v, want ErrClosed", err)
	}
}
