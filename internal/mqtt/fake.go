package mqtt

import (
	"sync"

	"github.com/mobakitch/jema-terminal/internal/logic"
)

// FakePublisher is an in-memory Publisher and command source for tests.
// Read the exported slices only after the code under test has stopped
// publishing.
type FakePublisher struct {
	mu sync.Mutex

	Events         []logic.Event
	Payloads       [][]byte
	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// Injected failures for Publish and PublishSystem.
	PublishError       error
	PublishSystemError error

	// OnCommand receives payloads passed to Deliver.
	OnCommand CommandHandler

	Closed    bool
	Connected bool
}

// NewFakePublisher returns a disconnected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records event and its wire payload.
func (f *FakePublisher) Publish(event logic.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records event and its wire payload.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Deliver simulates a message on the command topic. Unlike RealPublisher
// the handler runs on the caller's goroutine.
func (f *FakePublisher) Deliver(payload []byte) error {
	on, err := ParseCommand(payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	h := f.OnCommand
	f.mu.Unlock()

	if h != nil {
		h(on)
	}
	return nil
}

// Close marks the publisher closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected returns the Connected field.
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}
