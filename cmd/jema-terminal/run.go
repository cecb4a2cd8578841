package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mobakitch/jema-terminal/internal/config"
	"github.com/mobakitch/jema-terminal/internal/gpio"
	"github.com/mobakitch/jema-terminal/internal/history"
	"github.com/mobakitch/jema-terminal/internal/homekit"
	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/logic"
	"github.com/mobakitch/jema-terminal/internal/mqtt"
	"github.com/mobakitch/jema-terminal/internal/status"
	"github.com/mobakitch/jema-terminal/internal/terminal"
	"github.com/mobakitch/jema-terminal/internal/web"
)

const (
	// changeBuffer is how many notifications may wait for the loop.
	changeBuffer = 16
	// housekeeping is the interval of the tracker/heartbeat tick.
	housekeeping = time.Second
)

// eventLog persists published events.
type eventLog interface {
	Record(ctx context.Context, event logic.Event) error
}

// controller is the part of *terminal.Controller the run loop needs.
type controller interface {
	Refresh(ctx context.Context) (bool, error)
	Value() bool
	State() terminal.State
	Shutdown()
}

func run(ctx context.Context, cfg *config.Config) error {
	pins, err := openPins(cfg)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	ctrl := terminal.New(pins, cfg.Terminal())
	changes := make(chan bool, changeBuffer)
	ctrl.OnChange(forwardChanges(ctx, changes))

	if err := ctrl.Setup(ctx); err != nil {
		return fmt.Errorf("setup terminal: %w", err)
	}

	publisher, err := mqtt.NewRealPublisher(ctx, mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		OnCommand:   commandHandler(ctx, ctrl, "mqtt"),
	})
	if err != nil {
		ctrl.Shutdown()
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Tracker is filled before STARTUP so the snapshot is complete.
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetController(ctrl.State().String())
	tracker.Update(logic.StateOf(ctrl.Value()), logic.EventCounts{}, time.Now())
	tracker.SetMQTTConnected(publisher.IsConnected())

	var events eventLog
	var webOpts []web.Option
	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.ErrorKV(ctx, "event history disabled", "error", err)
		} else {
			defer store.Close()
			events = store
			webOpts = append(webOpts, web.WithHistory(store))
			if c, err := store.Counts(ctx); err == nil {
				logger.InfoKV(ctx, "event history", "on", c.On, "off", c.Off)
			}
		}
	}

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.WarnKV(ctx, "failed to publish startup event", "error", err)
	} else {
		logger.Info(ctx, "published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, ctrl, webOpts...)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorKV(ctx, "http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.InfoKV(ctx, "http status server listening", "addr", cfg.HTTP.Addr)
	}

	if cfg.HomeKit.Enabled {
		bridge := homekit.New(ctx, ctrl, homekit.Options{
			Name:        cfg.Name,
			Pin:         cfg.HomeKit.Pin,
			StoragePath: cfg.HomeKit.StoragePath,
			Port:        cfg.HomeKit.Port,
		})
		if err := bridge.Start(); err != nil {
			logger.ErrorKV(ctx, "homekit disabled", "error", err)
		}
		defer bridge.Stop()
	}

	logger.InfoKV(ctx, "started",
		"backend", cfg.GPIO.Backend, "broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat, "resync", cfg.Resync)

	tick := time.NewTicker(housekeeping)
	defer tick.Stop()

	var resync <-chan time.Time
	if cfg.Resync > 0 {
		t := time.NewTicker(cfg.Resync)
		defer t.Stop()
		resync = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(ctx, loop{
		ctrl:       ctrl,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		history:    events,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
		changes:    changes,
		tick:       tick.C,
		resync:     resync,
		sig:        sigCh,
	})
}

// loop holds everything runLoop reads from. A nil channel never fires.
type loop struct {
	ctrl       controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	history    eventLog
	heartbeat  time.Duration
	now        func() time.Time
	changes    <-chan bool
	tick       <-chan time.Time
	resync     <-chan time.Time
	sig        <-chan os.Signal
}

func runLoop(ctx context.Context, l loop) error {
	startTime := l.now()
	recorder := logic.NewRecorder(startTime)
	if l.ctrl.State() == terminal.Ready {
		recorder.Baseline(l.ctrl.Value(), startTime)
	}

	for {
		select {
		case s := <-l.sig:
			logger.InfoKV(ctx, "shutting down", "signal", s)
			// Changes already queued go out before SHUTDOWN.
			drainChanges(ctx, l, recorder)

			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: l.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				updateTracker(l, recorder)
				event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := l.publisher.PublishSystem(event); err != nil {
				logger.WarnKV(ctx, "failed to publish shutdown event", "error", err)
			} else {
				logger.Info(ctx, "published shutdown event")
			}

			l.ctrl.Shutdown()
			return nil

		case on := <-l.changes:
			record(ctx, l, recorder, on)
			updateTracker(l, recorder)

		case <-l.resync:
			if _, err := l.ctrl.Refresh(ctx); err != nil {
				logger.WarnKV(ctx, "resync failed", "error", err)
			}

		case <-l.tick:
			t := l.now()

			// Picks up a change whose notification was dropped.
			record(ctx, l, recorder, l.ctrl.Value())

			if hb := recorder.CheckHeartbeat(t, l.heartbeat); hb != nil {
				logger.InfoKV(ctx, "heartbeat",
					"uptime", hb.Uptime, "state", hb.State, "on", hb.Counts.On, "off", hb.Counts.Off)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hb.Timestamp,
					Event:     "HEARTBEAT",
				}
				if l.tracker != nil {
					if net := readNetworkInfo(); net != nil {
						l.tracker.SetNetwork(net)
					}
					updateTracker(l, recorder)
					hbEvent.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := l.publisher.PublishSystem(hbEvent); err != nil {
					logger.WarnKV(ctx, "heartbeat publish error", "error", err)
				}
			}

			updateTracker(l, recorder)
		}
	}
}

// record feeds one observed value through the recorder, then publishes and
// logs the resulting event. Failures are logged and never stop the loop.
func record(ctx context.Context, l loop, recorder *logic.Recorder, on bool) {
	event := recorder.Process(on, l.now())
	if event == nil {
		return
	}
	logger.InfoKV(ctx, "event", "type", event.Type, "state", event.State)
	if err := l.publisher.Publish(*event); err != nil {
		logger.WarnKV(ctx, "publish error", "error", err)
	}
	if l.history != nil {
		if err := l.history.Record(ctx, *event); err != nil {
			logger.WarnKV(ctx, "history error", "error", err)
		}
	}
}

func drainChanges(ctx context.Context, l loop, recorder *logic.Recorder) {
	for {
		select {
		case on := <-l.changes:
			record(ctx, l, recorder, on)
		default:
			return
		}
	}
}

func updateTracker(l loop, recorder *logic.Recorder) {
	if l.tracker == nil {
		return
	}
	l.tracker.Update(recorder.CurrentState(), recorder.EventCountsSnapshot(), recorder.LastChange())
	l.tracker.SetController(l.ctrl.State().String())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// forwardChanges adapts the channel into a controller observer. Observers
// must not block, so a full channel drops the value; the next tick
// reconciles it.
func forwardChanges(ctx context.Context, ch chan<- bool) func(bool) {
	return func(on bool) {
		select {
		case ch <- on:
		default:
			logger.WarnKV(ctx, "change notification dropped", "value", on)
		}
	}
}

// commandHandler returns a handler that drives ctrl from a remote command.
func commandHandler(ctx context.Context, ctrl *terminal.Controller, source string) mqtt.CommandHandler {
	ctx = logger.WithKV(ctx, "source", source)
	return func(on bool) {
		value, err := ctrl.Set(ctx, on)
		if err != nil {
			logger.ErrorKV(ctx, "set failed", "desired", on, "value", value, "error", err)
			return
		}
		logger.InfoKV(ctx, "set", "value", value)
	}
}

func openPins(cfg *config.Config) (gpio.Pins, error) {
	if cfg.GPIO.Backend == config.BackendPeriph {
		p, err := gpio.NewPeriphPins()
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := gpio.NewChipPins(cfg.GPIO.Chip, cfg.GPIO.Debounce)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Name:            cfg.Name,
		MonitorPin:      cfg.Monitor.Pin,
		MonitorInverted: cfg.Monitor.Inverted,
		ControlPin:      cfg.Control.Pin,
		PulseMs:         int64(cfg.Control.DurationMs),
		HeartbeatMs:     cfg.Heartbeat.Milliseconds(),
		ResyncMs:        cfg.Resync.Milliseconds(),
		Backend:         cfg.GPIO.Backend,
		Broker:          cfg.MQTT.Broker,
		HTTPAddr:        cfg.HTTP.Addr,
		HomeKit:         cfg.HomeKit.Enabled,
		HistoryPath:     cfg.History.Path,
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
