// Package tui is a terminal chat channel built on bubbletea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/pkg/channel"

	tea "github.com/charmbracelet/bubbletea"
)

const channelName = "tui"

// Adapter runs an interactive terminal conversation with the relay.
type Adapter struct {
	*channel.Conversation
	info Info
}

func NewAdapter(info Info, replyTimeout time.Duration) *Adapter {
	return &Adapter{
		Conversation: channel.NewConversation(channelName, replyTimeout),
		info:         info,
	}
}

// Run drives the terminal UI until the user quits or ctx ends.
func (a *Adapter) Run(ctx context.Context, submitter channel.Submitter) error {
	if submitter == nil {
		return errors.New("submitter is required")
	}
	a.Bind(submitter)

	program := tea.NewProgram(newModel(ctx, a.Send, a.info), tea.WithContext(ctx), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run chat ui: %w", err)
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(defaultTheme().goodbyeStyle.Render("chatrelay closed"))
	return nil
}
