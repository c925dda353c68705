package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"
)

// Context is handed to every handler invocation. It scopes sends to the
// inbound envelope's session token.
type Context struct {
	ctx     context.Context
	agent   *Agent
	session string
	sender  string
	log     *slog.Logger
}

func (c *Context) Context() context.Context { return c.ctx }
func (c *Context) Session() string          { return c.session }
func (c *Context) Sender() string           { return c.sender }
func (c *Context) Logger() *slog.Logger     { return c.log }
func (c *Context) AgentName() string        { return c.agent.name }
func (c *Context) Address() string          { return c.agent.address }

// Bus exposes the host bus for event publication.
func (c *Context) Bus() *bus.MessageBus { return c.agent.bus }

// Send encodes payload as kind and queues it for target under the current session.
func (c *Context) Send(target string, kind bus.Kind, payload any) error {
	env, err := c.encode(target, kind, payload)
	if err != nil {
		return err
	}

	if ok := c.agent.bus.PublishOutbound(c.ctx, env); !ok {
		return fmt.Errorf("send %s to %s: bus closed", kind, target)
	}

	return nil
}

// Deliver encodes payload like Send but hands it to the target's route
// directly, so a missing route or a refused envelope is returned to the caller.
func (c *Context) Deliver(target string, kind bus.Kind, payload any) error {
	env, err := c.encode(target, kind, payload)
	if err != nil {
		return err
	}

	if err := c.agent.bus.Deliver(c.ctx, env); err != nil {
		return fmt.Errorf("deliver %s to %s: %w", kind, target, err)
	}

	return nil
}

func (c *Context) encode(target string, kind bus.Kind, payload any) (bus.Envelope, error) {
	if target == "" {
		return bus.Envelope{}, errors.New("send target is required")
	}

	return protocol.Encode(kind, c.agent.address, target, c.session, payload)
}

// Reply sends payload back to the inbound sender.
func (c *Context) Reply(kind bus.Kind, payload any) error {
	return c.Send(c.sender, kind, payload)
}
