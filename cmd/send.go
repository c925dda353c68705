package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatrelay/pkg/channel"
	"chatrelay/pkg/config"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/logger"

	"github.com/spf13/cobra"
)

const localChannelName = "local"

var promptText string

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Relay one message, or read messages from stdin",
	Long:  "Starts an in-process relay, sends one chat message through it and prints the reply. Without text it reads one message per line.",
	Run: func(cmd *cobra.Command, args []string) {
		text := resolvePrompt(args)

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		appLogger, err := logger.New(config.LoggingConfig{Format: cfg.Logging.Format, Level: quietLevel(cfg.Logging.Level)})
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		conversation, shutdown, err := startLocalRelay(ctx, cfg, appLogger, localChannelName)
		if err != nil {
			fmt.Printf("failed to start relay: %v\n", err)
			return
		}
		defer shutdown()

		if text != "" {
			sendOne(ctx, conversation, text)
			return
		}

		runInteractive(ctx, conversation)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&promptText, "text", "t", "", "message text to send")
}

// startLocalRelay runs a relay in the background with one in-process
// conversation attached. shutdown stops the relay and waits for it.
func startLocalRelay(ctx context.Context, cfg *config.Config, log *slog.Logger, name string) (*channel.Conversation, func(), error) {
	relay, err := gateway.NewRelay(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	conversation := channel.NewConversation(name, replyTimeout(cfg))
	relay.Attach(conversation)
	conversation.Bind(relay.Agent())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Run(runCtx); err != nil {
			log.Error("Relay stopped", "error", err)
		}
	}()

	return conversation, func() {
		cancel()
		<-done
	}, nil
}

func replyTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Bridge.RequestTimeoutSeconds+30) * time.Second
}

// quietLevel keeps interactive commands readable unless a level was configured.
func quietLevel(level string) string {
	if strings.TrimSpace(level) == "" {
		return "warn"
	}

	return level
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	if len(args) == 0 {
		return ""
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func sendOne(ctx context.Context, conversation *channel.Conversation, text string) bool {
	reply, err := conversation.Send(ctx, text)
	if err != nil {
		fmt.Printf("send failed: %v\n", err)
		return false
	}

	printReply(reply)
	return true
}

func runInteractive(ctx context.Context, conversation *channel.Conversation) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		text := strings.TrimSpace(scanner.Text())
		if isExitCommand(text) {
			return
		}

		sendOne(ctx, conversation, text)
		if ctx.Err() != nil {
			return
		}
	}
}

func printReply(reply channel.Reply) {
	lines := replyLines(reply.Text)
	for _, line := range lines {
		fmt.Printf("< %s\n", line)
	}
	if !reply.EndSession {
		fmt.Println("  (session open)")
	}
	if len(lines) > 0 {
		fmt.Println()
	}
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
