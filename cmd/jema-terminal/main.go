// Command jema-terminal drives a JEM-A terminal latching relay and publishes
// its state to MQTT, HTTP and HomeKit.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mobakitch/jema-terminal/internal/config"
	"github.com/mobakitch/jema-terminal/internal/logger"
	"github.com/mobakitch/jema-terminal/internal/terminal"
	"github.com/mobakitch/jema-terminal/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// cliOptions holds the persistent flags shared by every subcommand.
type cliOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "jema-terminal",
		Short: "Drive a JEM-A terminal latching relay.",
		Long: `Runs the JEM-A terminal daemon.

The daemon watches the relay monitor pin, pulses the control pin on command
and publishes every state change to MQTT. Commands arrive over MQTT, the
HTTP /set endpoint and, when enabled, HomeKit.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.cfg)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(newStateCmd(opts), newSetCmd(opts))
	version.AttachCobraVersionCommand(root)

	root.SetContext(context.Background())

	return root
}

// load reads the configuration and applies the log level.
func (o *cliOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		logger.Errorf(context.Background(), "load config: %v", err)
		return err
	}

	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	lvl, ok := logger.ParseLogLevel(level)
	if !ok {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger.SetLevel(lvl)

	o.cfg = cfg
	return nil
}

func newStateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the current relay state and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withController(cmd.Context(), opts.cfg, func(ctrl *terminal.Controller) error {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), stateString(ctrl.Value()))
				return nil
			})
		},
	}
}

func newSetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "set on|off",
		Short:     "Drive the relay to ON or OFF and exit.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := parseState(args[0])
			if err != nil {
				return err
			}
			return withController(cmd.Context(), opts.cfg, func(ctrl *terminal.Controller) error {
				value, err := ctrl.Set(cmd.Context(), desired)
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), stateString(value))
				return err
			})
		},
	}
}

// withController sets up a controller on the configured pins, runs fn and
// releases everything.
func withController(ctx context.Context, cfg *config.Config, fn func(*terminal.Controller) error) error {
	pins, err := openPins(cfg)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	ctrl := terminal.New(pins, cfg.Terminal())
	if err := ctrl.Setup(ctx); err != nil {
		return fmt.Errorf("setup terminal: %w", err)
	}
	defer ctrl.Shutdown()

	return fn(ctrl)
}

func parseState(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("state must be on or off, got %q", s)
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
