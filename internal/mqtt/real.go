package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mobakitch/jema-terminal/internal/command"
	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/logic"
)

// DefaultBufferSize is the number of messages kept while the broker is
// unreachable.
const DefaultBufferSize = 100

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	BufferSize  int
	// OnCommand, if set, receives commands from the command topic one at a
	// time in arrival order, off the MQTT client's goroutines.
	OnCommand CommandHandler
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	ctx    context.Context
	client paho.Client
	topics Topics
	cmds   *command.Queue

	mu  sync.Mutex
	out *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
// An unreachable broker is not fatal: the client keeps retrying and
// messages are buffered until it connects.
func NewRealPublisher(ctx context.Context, o Options) (*RealPublisher, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "mqtt"), "broker", o.Broker)

	size := o.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &RealPublisher{
		ctx:    ctx,
		topics: NewTopics(o.TopicPrefix),
		out:    newOutbox(size),
	}
	if o.OnCommand != nil {
		p.cmds = command.NewQueue(o.OnCommand)
	}

	will, err := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Reason: "CONNECTION_LOST"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.WarnKV(ctx, "connection lost", "error", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		logger.WarnKV(ctx, "broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		p.closeCommands()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Publish sends a terminal event to the MQTT broker.
// Retained so a new subscriber learns the current state.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	if err := p.publish(message{topic: p.topics.Events, payload: payload, retained: true}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once): lifecycle events must arrive
	msg := message{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained}
	if err := p.publish(msg); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
// Commands not yet started are discarded.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	p.closeCommands()
	return nil
}

func (p *RealPublisher) closeCommands() {
	if p.cmds == nil {
		return
	}
	if n := p.cmds.Close(); n > 0 {
		logger.WarnKV(p.ctx, "discarded pending commands", "count", n)
	}
}

func (p *RealPublisher) publish(msg message) error {
	p.mu.Lock()
	if !p.client.IsConnectionOpen() {
		overflowed := p.out.add(msg)
		p.mu.Unlock()
		if overflowed {
			logger.WarnKV(p.ctx, "offline buffer full, dropping oldest", "capacity", p.out.capacity())
		}
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timeout")
	}
	return token.Error()
}

// handleConnect runs on every (re)connection.
func (p *RealPublisher) handleConnect(c paho.Client) {
	logger.InfoKV(p.ctx, "connected")

	p.mu.Lock()
	pending, dropped := p.out.take()
	p.mu.Unlock()

	if len(pending) > 0 {
		logger.InfoKV(p.ctx, "replaying buffered messages", "count", len(pending), "dropped", dropped)
	}
	for _, msg := range pending {
		// Do not wait: this runs on the client's connection goroutine.
		c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	}

	if p.cmds == nil {
		return
	}
	c.Subscribe(p.topics.Command, 1, p.handleCommand)
}

// handleCommand runs on the paho router goroutine in message order.
func (p *RealPublisher) handleCommand(_ paho.Client, m paho.Message) {
	on, err := ParseCommand(m.Payload())
	if err != nil {
		logger.WarnKV(p.ctx, "ignoring command", "topic", m.Topic(), "error", err)
		return
	}
	logger.InfoKV(p.ctx, "command received", "on", on)
	if !p.cmds.Push(on) {
		logger.WarnKV(p.ctx, "publisher closed, dropping command", "on", on)
	}
}
