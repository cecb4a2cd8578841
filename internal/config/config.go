package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mobakitch/jema-terminal/internal/gpio"
	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/mqtt"
	"github.com/mobakitch/jema-terminal/internal/terminal"
)

// Config holds every setting of the jema-terminal daemon.
type Config struct {
	// Name is shown on the status page and used as the HomeKit accessory name.
	Name string `yaml:"name"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	GPIO    GPIO    `yaml:"gpio"`
	Monitor Monitor `yaml:"monitor"`
	Control Control `yaml:"control"`
	MQTT    MQTT    `yaml:"mqtt"`
	HTTP    HTTP    `yaml:"http"`
	HomeKit HomeKit `yaml:"homekit"`
	History History `yaml:"history"`

	// Heartbeat is the interval between HEARTBEAT system events (0 disables).
	Heartbeat time.Duration `yaml:"heartbeat"`
	// Resync is the interval between monitor re-reads (0 disables).
	Resync time.Duration `yaml:"resync"`
}

// GPIO selects the pin backend.
type GPIO struct {
	// Backend is "cdev" (Linux GPIO character device) or "periph".
	Backend string `yaml:"backend"`
	// Chip is the character device name, cdev backend only.
	Chip string `yaml:"chip"`
	// Debounce is the kernel debounce period for the monitor line, cdev backend only.
	Debounce time.Duration `yaml:"debounce"`
}

// Monitor describes the relay position input.
type Monitor struct {
	Pin      int  `yaml:"pin"`
	Inverted bool `yaml:"inverted"`
}

// Control describes the pulsed relay toggle output.
type Control struct {
	Pin        int `yaml:"pin"`
	DurationMs int `yaml:"duration_ms"`
}

// MQTT holds broker connection settings.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// HTTP holds status server settings.
type HTTP struct {
	// Addr is the listen address, empty disables the server.
	Addr string `yaml:"addr"`
}

// HomeKit holds accessory settings.
type HomeKit struct {
	Enabled     bool   `yaml:"enabled"`
	Pin         string `yaml:"pin"`
	StoragePath string `yaml:"storage_path"`
	Port        string `yaml:"port"`
}

// History holds the event log settings.
type History struct {
	// Path is the SQLite database file, empty disables the log.
	Path string `yaml:"path"`
}

// Backend names.
const (
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

const (
	// DefaultConfigFilename is the default filename for daemon settings.
	DefaultConfigFilename = "jema-terminal.yaml"

	// DefaultName is the accessory name used when none is configured.
	DefaultName = "JEM-A Terminal"

	// DefaultPulseMs is the control pulse hold time in milliseconds.
	DefaultPulseMs = 1000

	// DefaultBroker is the MQTT broker used when none is configured.
	DefaultBroker = "tcp://localhost:1883"

	// DefaultHTTPAddr is the status server listen address.
	DefaultHTTPAddr = ":80"

	// DefaultHomeKitPin is the setup code shown when pairing.
	DefaultHomeKitPin = "00102003"

	// DefaultHomeKitStorage is where pairing data is kept.
	DefaultHomeKitStorage = "homekit"

	// DefaultHistoryPath is the SQLite event log file.
	DefaultHistoryPath = "jema-terminal-events.db"

	// DefaultHeartbeat is the interval between HEARTBEAT events.
	DefaultHeartbeat = 15 * time.Minute

	// DefaultResync is the interval between monitor re-reads.
	DefaultResync = time.Minute

	// DefaultDebounce is the kernel debounce period for the monitor line.
	DefaultDebounce = 5 * time.Millisecond

	clientIDPrefix = "jema-terminal-"
)

var (
	errConfigIsNotSet   = errors.New("configuration is not set")
	errNegativePin      = errors.New("pin numbers must not be negative")
	errSamePin          = errors.New("monitor and control must use different pins")
	errPulseDuration    = errors.New("control pulse duration must be positive")
	errUnknownBackend   = errors.New("unknown gpio backend")
	errBrokerRequired   = errors.New("mqtt broker must be provided")
	errNegativeInterval = errors.New("heartbeat and resync must not be negative")
	errHomeKitPin       = errors.New("homekit pin must be 8 digits")
)

// Default returns the settings of the reference installation.
func Default() *Config {
	return &Config{
		Name:     DefaultName,
		LogLevel: "info",
		GPIO: GPIO{
			Backend:  BackendCdev,
			Chip:     gpio.DefaultChip,
			Debounce: DefaultDebounce,
		},
		Monitor: Monitor{Pin: gpio.DefaultMonitorPin, Inverted: true},
		Control: Control{Pin: gpio.DefaultControlPin, DurationMs: DefaultPulseMs},
		MQTT: MQTT{
			Broker:      DefaultBroker,
			TopicPrefix: mqtt.DefaultTopicPrefix,
		},
		HTTP: HTTP{Addr: DefaultHTTPAddr},
		HomeKit: HomeKit{
			Pin:         DefaultHomeKitPin,
			StoragePath: DefaultHomeKitStorage,
		},
		History:   History{Path: DefaultHistoryPath},
		Heartbeat: DefaultHeartbeat,
		Resync:    DefaultResync,
	}
}

// Load reads configuration from the provided path on top of Default and
// validates it. A missing file at the default path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultConfigFilename:
		logger.Infof(context.Background(), "no %s found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings and fills in derived defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Monitor.Pin < 0 || cfg.Control.Pin < 0 {
		return errNegativePin
	}

	if cfg.Monitor.Pin == cfg.Control.Pin {
		return fmt.Errorf("%w: both are %d", errSamePin, cfg.Monitor.Pin)
	}

	if cfg.Control.DurationMs <= 0 {
		return fmt.Errorf("%w: got %d ms", errPulseDuration, cfg.Control.DurationMs)
	}

	switch cfg.GPIO.Backend {
	case "":
		cfg.GPIO.Backend = BackendCdev
	case BackendCdev, BackendPeriph:
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, cfg.GPIO.Backend)
	}

	if cfg.GPIO.Chip == "" {
		cfg.GPIO.Chip = gpio.DefaultChip
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}

	if cfg.MQTT.Broker == "" {
		return errBrokerRequired
	}

	u, err := url.Parse(cfg.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("invalid mqtt broker: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid mqtt broker %q: expected scheme://host:port", cfg.MQTT.Broker)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = NewClientID()
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = mqtt.DefaultTopicPrefix
	}

	if cfg.Heartbeat < 0 || cfg.Resync < 0 {
		return errNegativeInterval
	}

	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	if !cfg.HomeKit.Enabled {
		return nil
	}

	if !validHomeKitPin(cfg.HomeKit.Pin) {
		return fmt.Errorf("%w: %q", errHomeKitPin, cfg.HomeKit.Pin)
	}

	if cfg.HomeKit.StoragePath == "" {
		cfg.HomeKit.StoragePath = DefaultHomeKitStorage
	}

	return nil
}

// Terminal returns the controller settings.
func (c *Config) Terminal() terminal.Config {
	return terminal.Config{
		MonitorPin:      c.Monitor.Pin,
		MonitorInverted: c.Monitor.Inverted,
		ControlPin:      c.Control.Pin,
		PulseDuration:   c.PulseDuration(),
	}
}

// PulseDuration returns the control pulse hold time.
func (c *Config) PulseDuration() time.Duration {
	return time.Duration(c.Control.DurationMs) * time.Millisecond
}

// NewClientID returns a random MQTT client id with the jema-terminal prefix.
func NewClientID() string {
	return clientIDPrefix + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func validHomeKitPin(pin string) bool {
	if len(pin) != 8 {
		return false
	}

	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
