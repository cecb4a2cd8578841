// Package homekit exposes the terminal as a HomeKit Switch accessory.
package homekit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/brutella/hc"
	"github.com/brutella/hc/accessory"

	"github.com/mobakitch/jema-terminal/internal/command"
	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/version"
)

const (
	// Manufacturer is reported in the accessory information service.
	Manufacturer = "Kawabata Farm"
	// Model is reported in the accessory information service.
	Model = "JEM-A Terminal"
)

var errNotStarted = errors.New("homekit: not started")

// Switch is the controller surface the accessory drives.
type Switch interface {
	Set(ctx context.Context, desired bool) (bool, error)
	Value() bool
	OnChange(fn func(bool))
}

// Options configures a Bridge.
type Options struct {
	Name        string
	Pin         string
	StoragePath string
	Port        string
}

// Bridge binds a Switch to a HomeKit Switch accessory.
type Bridge struct {
	ctx       context.Context
	sw        Switch
	acc       *accessory.Switch
	cfg       hc.Config
	transport hc.Transport
	cmds      *command.Queue
}

// New creates the accessory and wires it to sw. Nothing is advertised
// until Start.
func New(ctx context.Context, sw Switch, o Options) *Bridge {
	serial, err := os.Hostname()
	if err != nil {
		serial = "jema-terminal"
	}

	b := &Bridge{
		ctx: logger.WithName(ctx, "homekit"),
		sw:  sw,
		acc: accessory.NewSwitch(accessory.Info{
			Name:             o.Name,
			SerialNumber:     serial,
			Manufacturer:     Manufacturer,
			Model:            Model,
			FirmwareRevision: version.Short(),
		}),
		cfg: hc.Config{
			Pin:         o.Pin,
			StoragePath: o.StoragePath,
			Port:        o.Port,
		},
	}

	b.cmds = command.NewQueue(b.apply)

	on := b.acc.Switch.On
	on.OnValueRemoteGet(sw.Value)
	on.OnValueRemoteUpdate(b.handleRemoteUpdate)
	sw.OnChange(on.SetValue)

	return b
}

// Start publishes the accessory on the local network.
func (b *Bridge) Start() error {
	b.acc.Switch.On.SetValue(b.sw.Value())

	t, err := hc.NewIPTransport(b.cfg, b.acc.Accessory)
	if err != nil {
		return fmt.Errorf("create homekit transport: %w", err)
	}
	b.transport = t

	go t.Start()
	logger.InfoKV(b.ctx, "accessory published", "pin", b.cfg.Pin, "storage", b.cfg.StoragePath)

	return nil
}

// Stop withdraws the accessory, waits for the transport to finish and
// drops remote updates that have not started.
func (b *Bridge) Stop() error {
	if b.transport == nil {
		b.cmds.Close()
		return errNotStarted
	}
	<-b.transport.Stop()
	if n := b.cmds.Close(); n > 0 {
		logger.WarnKV(b.ctx, "discarded pending remote updates", "count", n)
	}
	return nil
}

// handleRemoteUpdate queues the update so pulses run off the HAP
// connection goroutine and in the order updates arrived.
func (b *Bridge) handleRemoteUpdate(desired bool) {
	if !b.cmds.Push(desired) {
		logger.WarnKV(b.ctx, "bridge stopped, ignoring remote update", "desired", desired)
	}
}

// apply drives the switch and puts the characteristic back to the physical
// value, which differs from desired when Set fails.
func (b *Bridge) apply(desired bool) {
	value, err := b.sw.Set(b.ctx, desired)
	if err != nil {
		logger.ErrorKV(b.ctx, "set from homekit failed", "desired", desired, "error", err)
	}
	b.acc.Switch.On.SetValue(value)
}
