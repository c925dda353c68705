package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/pkg/channel/tui"
	"chatrelay/pkg/gateway"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the relay in a terminal UI",
	Long:  "Starts an in-process relay and opens an interactive terminal conversation with it.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		// Log output would corrupt the alternate screen.
		discard := slog.New(slog.DiscardHandler)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		relay, err := gateway.NewRelay(cfg, discard)
		if err != nil {
			fmt.Printf("failed to start relay: %v\n", err)
			return
		}

		adapter := tui.NewAdapter(tui.Info{
			AgentName:  relay.Agent().Name(),
			IntakeMode: relay.IntakeMode(),
			RemoteURL:  relay.Bridge().BaseURL(),
			Remote:     string(relay.Bridge().Status(ctx)),
		}, replyTimeout(cfg))
		relay.Attach(adapter)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = relay.Run(runCtx)
		}()

		if err := adapter.Run(runCtx, relay.Agent()); err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}

		cancel()
		<-done
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
