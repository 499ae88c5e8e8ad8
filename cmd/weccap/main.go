// Command weccap runs the mocap operator console: it keeps the session in
// sync with the capture backend, serves the operator API and streams the
// accumulated scene to viewers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/weccap/internal/config"
	"github.com/banshee-data/weccap/internal/monitoring"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "weccap",
	Short:         "Mocap operator console",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
}

// loadConfig reads the layered configuration and applies the log level.
func loadConfig() (*config.ConsoleConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := monitoring.Configure(os.Stderr, cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "weccap: %v\n", err)
		os.Exit(1)
	}
}
