package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mobakitch/jema-terminal/internal/logic"
)

func TestFormatPayload(t *testing.T) {
	event := logic.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Type:      logic.EventOn,
		State:     logic.StateOn,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Terminal.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.Terminal.Timestamp)
	}
	if parsed.Terminal.Event != "TERMINAL_ON" {
		t.Errorf("unexpected event: %s", parsed.Terminal.Event)
	}
	if parsed.Terminal.State != "ON" {
		t.Errorf("unexpected state: %s", parsed.Terminal.State)
	}
}

func TestFormatPayloadNonUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	event := logic.Event{
		Timestamp: time.Date(2026, 2, 3, 7, 18, 12, 0, tokyo),
		Type:      logic.EventOff,
		State:     logic.StateOff,
	}

	payload, _ := FormatPayload(event)
	var parsed Payload
	json.Unmarshal(payload, &parsed)

	if parsed.Terminal.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("timestamp should be UTC, got %s", parsed.Terminal.Timestamp)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 0, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "SHUTDOWN" {
		t.Errorf("event: got %s", parsed.System.Event)
	}
	if parsed.System.Reason != "SIGTERM" {
		t.Errorf("reason: got %s", parsed.System.Reason)
	}
	if parsed.System.Timestamp != "2026-02-02T22:00:00Z" {
		t.Errorf("timestamp: got %s", parsed.System.Timestamp)
	}
}

func TestFormatSystemPayloadWillOmitsTimestamp(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"system":{"event":"OFFLINE","reason":"CONNECTION_LOST"}}`
	if string(payload) != want {
		t.Errorf("payload: got %s, want %s", payload, want)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}

func TestNewTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   Topics
	}{
		{"", Topics{
			Events:  "home/jema-terminal/events",
			System:  "home/jema-terminal/system",
			Command: "home/jema-terminal/set",
		}},
		{"farm/barn/", Topics{
			Events:  "farm/barn/events",
			System:  "farm/barn/system",
			Command: "farm/barn/set",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			if got := NewTopics(tt.prefix); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
		wantErr bool
	}{
		{"ON", true, false},
		{"on", true, false},
		{" true\n", true, false},
		{"1", true, false},
		{"OFF", false, false},
		{"False", false, false},
		{"0", false, false},
		{"toggle", false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrBadCommand) {
					t.Errorf("expected ErrBadCommand, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	event := logic.Event{
		Timestamp: time.Now(),
		Type:      logic.EventOn,
		State:     logic.StateOn,
	}

	if err := f.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.Events))
	}
	if f.Events[0].Type != logic.EventOn {
		t.Errorf("unexpected event type: %s", f.Events[0].Type)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	err := f.Publish(logic.Event{Type: logic.EventOff, State: logic.StateOff})
	if err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 {
		t.Errorf("expected no events recorded on error, got %d", len(f.Events))
	}
}

func TestFakePublisherDeliver(t *testing.T) {
	f := NewFakePublisher()
	var got []bool
	f.OnCommand = func(on bool) { got = append(got, on) }

	for _, payload := range []string{"ON", " off ", "1"} {
		if err := f.Deliver([]byte(payload)); err != nil {
			t.Fatalf("Deliver(%q): %v", payload, err)
		}
	}
	if err := f.Deliver([]byte("toggle")); !errors.Is(err, ErrBadCommand) {
		t.Errorf("expected ErrBadCommand, got %v", err)
	}

	want := []bool{true, false, true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFakePublisherDeliverWithoutHandler(t *testing.T) {
	f := NewFakePublisher()
	if err := f.Deliver([]byte("ON")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
