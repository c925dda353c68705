package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chatrelay/pkg/channel"
	"chatrelay/pkg/channel/httpchat"
	"chatrelay/pkg/channel/telegram"
	"chatrelay/pkg/config"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/logger"

	"github.com/spf13/cobra"
)

const (
	telegramChannelName = "telegram"
	httpChannelName     = "http"
)

var (
	gatewayIntakeMode string
	gatewayHTTPAddr   string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the relay with its chat channels",
	Long:  "Runs the relay agent with every enabled channel plus health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		if err := applyGatewayFlags(cfg, gatewayIntakeMode, gatewayHTTPAddr); err != nil {
			fmt.Printf("invalid flags: %v\n", err)
			return
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := logger.Component(appLogger, "cmd.gateway")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, adapters, appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		log.Info("Gateway started",
			"channels", enabledChannelNames(adapters),
			"intake", cfg.Agent.IntakeMode,
			"remote", cfg.Bridge.BaseURL,
		)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.Flags().StringVar(&gatewayIntakeMode, "intake", "", "intake variant to run: simple or structured")
	gatewayCmd.Flags().StringVar(&gatewayHTTPAddr, "http-addr", "", "enable the HTTP chat channel on this address")
}

// applyGatewayFlags layers command-line overrides on top of cfg and revalidates it.
func applyGatewayFlags(cfg *config.Config, intakeMode string, httpAddr string) error {
	if mode := strings.ToLower(strings.TrimSpace(intakeMode)); mode != "" {
		cfg.Agent.IntakeMode = mode
	}
	if addr := strings.TrimSpace(httpAddr); addr != "" {
		cfg.Channels.HTTP.Enabled = true
		cfg.Channels.HTTP.Addr = addr
	}

	return config.Validate(cfg)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.HTTP.Enabled {
		adapter, err := httpchat.NewAdapter(cfg.Channels.HTTP, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", httpChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
