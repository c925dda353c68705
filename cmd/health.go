package cmd

import (
	"context"
	"fmt"
	"time"

	"chatrelay/pkg/bridge"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the remote graph endpoint is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client, err := bridge.New(cfg.Bridge)
		if err != nil {
			return err
		}

		startedAt := time.Now()
		err = client.Health(context.Background())
		fmt.Fprintln(cmd.OutOrStdout(), healthLine(client.BaseURL(), err, time.Since(startedAt)))
		if err != nil {
			cmd.SilenceUsage = true
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func healthLine(url string, err error, elapsed time.Duration) string {
	if err != nil {
		return fmt.Sprintf("%s %s: %v", url, bridge.Unhealthy, err)
	}

	return fmt.Sprintf("%s %s (%s)", url, bridge.Healthy, elapsed.Round(time.Millisecond))
}
