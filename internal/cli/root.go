// Package cli implements the qcpipe command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/logging"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
	client *Client
)

// defaultServer returns the status API URL, checking QCPIPE_SERVER first.
func defaultServer() string {
	if s := os.Getenv("QCPIPE_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the qcpipe CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qcpipe",
		Short: "qcpipe runs ORCA calculations for geometries dropped into a directory",
		Long: `qcpipe watches an input directory for xyz geometries, optimizes each
molecule with ORCA, chains a frequency calculation onto every finished
optimization, and retries failed jobs on the next start.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = flagLogLevel
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = flagLogFormat
			}
			logger = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to config YAML (defaults when empty)")
	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Status API URL (or QCPIPE_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newSubmitCmd(),
		newPoolCmd(),
		newConfigCmd(),
	)

	return root
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		c := config.DefaultConfig()
		if err := c.Validate(); err != nil {
			return c, fmt.Errorf("default config: %w", err)
		}
		return c, nil
	}
	return config.Load(path)
}
