package cmd

import (
	"errors"
	"fmt"
	"os"

	"chatrelay/pkg/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "Relay chat messages to a remote graph endpoint",
	Long: `chatrelay accepts chat messages from Telegram, HTTP or a terminal,
optionally structures them into a request, posts them to the remote graph
endpoint and replies with the rendered result.`,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads config.json, falling back to defaults and environment
// overrides when no file exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrNotFound) {
		cfg = config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}
