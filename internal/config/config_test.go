package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "jema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// TestDefaultIsValid ensures the reference installation settings pass validation.
func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, Validate(cfg))
	require.Equal(t, 23, cfg.Monitor.Pin)
	require.True(t, cfg.Monitor.Inverted)
	require.Equal(t, 24, cfg.Control.Pin)
	require.Equal(t, time.Second, cfg.PulseDuration())
	require.Equal(t, DefaultHistoryPath, cfg.History.Path)
	require.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	require.True(t, strings.HasPrefix(cfg.MQTT.ClientID, "jema-terminal-"))
}

// TestLoadOverlaysDefaults checks that only the keys present in the file change.
func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
name: Barn Heater
monitor:
  pin: 5
control:
  duration_ms: 250
mqtt:
  broker: tcp://10.0.0.2:1883
  client_id: barn
history:
  path: ""
heartbeat: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Barn Heater", cfg.Name)
	require.Equal(t, 5, cfg.Monitor.Pin)
	require.True(t, cfg.Monitor.Inverted, "inverted keeps its default")
	require.Equal(t, 24, cfg.Control.Pin)
	require.Equal(t, 250*time.Millisecond, cfg.PulseDuration())
	require.Equal(t, "tcp://10.0.0.2:1883", cfg.MQTT.Broker)
	require.Equal(t, "barn", cfg.MQTT.ClientID)
	require.Equal(t, 5*time.Minute, cfg.Heartbeat)
	require.Equal(t, DefaultResync, cfg.Resync)
	require.Empty(t, cfg.History.Path, "an explicit empty path disables the log")
}

// TestLoadTerminalConfig checks the controller settings derived from the file.
func TestLoadTerminalConfig(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
monitor:
  pin: 17
  inverted: false
control:
  pin: 27
  duration_ms: 40
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tc := cfg.Terminal()
	require.Equal(t, 17, tc.MonitorPin)
	require.False(t, tc.MonitorInverted)
	require.Equal(t, 27, tc.ControlPin)
	require.Equal(t, 40*time.Millisecond, tc.PulseDuration)
}

// TestLoadMissingFile distinguishes the default path from an explicit one.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

// TestLoadBadYAML rejects malformed files.
func TestLoadBadYAML(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "monitor: [unterminated"))
	require.Error(t, err)
}

// TestValidate walks through the rejected settings.
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"negative monitor pin", func(c *Config) { c.Monitor.Pin = -1 }, errNegativePin},
		{"negative control pin", func(c *Config) { c.Control.Pin = -3 }, errNegativePin},
		{"same pins", func(c *Config) { c.Control.Pin = c.Monitor.Pin }, errSamePin},
		{"zero pulse", func(c *Config) { c.Control.DurationMs = 0 }, errPulseDuration},
		{"negative pulse", func(c *Config) { c.Control.DurationMs = -5 }, errPulseDuration},
		{"unknown backend", func(c *Config) { c.GPIO.Backend = "sysfs" }, errUnknownBackend},
		{"no broker", func(c *Config) { c.MQTT.Broker = "" }, errBrokerRequired},
		{"negative heartbeat", func(c *Config) { c.Heartbeat = -time.Second }, errNegativeInterval},
		{"bad homekit pin", func(c *Config) {
			c.HomeKit.Enabled = true
			c.HomeKit.Pin = "1234"
		}, errHomeKitPin},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			require.ErrorIs(t, Validate(cfg), tt.want)
		})
	}
}

// TestValidateFormatErrors covers checks without a sentinel error.
func TestValidateFormatErrors(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	cfg := Default()
	cfg.MQTT.Broker = "localhost"
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.LogLevel = "verbose"
	require.Error(t, Validate(cfg))
}

// TestValidateFillsDerivedValues checks empty fields receive defaults.
func TestValidateFillsDerivedValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Name = ""
	cfg.GPIO.Backend = ""
	cfg.GPIO.Chip = ""
	cfg.MQTT.ClientID = ""
	cfg.MQTT.TopicPrefix = ""
	cfg.HomeKit.Enabled = true
	cfg.HomeKit.StoragePath = ""

	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultName, cfg.Name)
	require.Equal(t, BackendCdev, cfg.GPIO.Backend)
	require.NotEmpty(t, cfg.GPIO.Chip)
	require.NotEmpty(t, cfg.MQTT.ClientID)
	require.Equal(t, "home/jema-terminal", cfg.MQTT.TopicPrefix)
	require.Equal(t, DefaultHomeKitStorage, cfg.HomeKit.StoragePath)
}

// TestNewClientIDIsUnique ensures two calls do not collide.
func TestNewClientIDIsUnique(t *testing.T) {
	t.Parallel()

	a, b := NewClientID(), NewClientID()
	require.NotEqual(t, a, b)
	require.Len(t, a, len("jema-terminal-")+8)
}
