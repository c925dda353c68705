package cmd

import (
	"context"
	"testing"

	"chatrelay/pkg/bus"
	channelpkg "chatrelay/pkg/channel"
	"chatrelay/pkg/config"

	"github.com/stretchr/testify/require"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(context.Context, channelpkg.Submitter) error { return nil }

func (a testAdapter) Deliver(context.Context, bus.Envelope) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	_, err := enabledAdapters(&config.Config{}, nil)
	require.ErrorContains(t, err, "no channels are enabled")
}

func TestEnabledAdaptersBuildsConfiguredChannels(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Channels: config.ChannelsConfig{
		Telegram: config.TelegramConfig{Enabled: true, Token: "123:abc"},
		HTTP:     config.HTTPConfig{Enabled: true, Addr: "127.0.0.1:0"},
	}}

	adapters, err := enabledAdapters(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "telegram,http", enabledChannelNames(adapters))
}

func TestEnabledAdaptersRejectsTelegramWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Channels: config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true}}}

	_, err := enabledAdapters(cfg, nil)
	require.ErrorContains(t, err, "configure telegram channel")
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "slack"}}
	require.Equal(t, "telegram,slack", enabledChannelNames(adapters))
}

func TestApplyGatewayFlags(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	require.NoError(t, applyGatewayFlags(cfg, " STRUCTURED ", "127.0.0.1:9000"))
	require.Equal(t, config.IntakeStructured, cfg.Agent.IntakeMode)
	require.True(t, cfg.Channels.HTTP.Enabled)
	require.Equal(t, "127.0.0.1:9000", cfg.Channels.HTTP.Addr)

	require.Error(t, applyGatewayFlags(cfg, "chatty", ""))
}
