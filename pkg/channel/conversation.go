package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"
)

// Reply is one rendered chat reply.
type Reply struct {
	Text         string
	EndSession   bool
	Acknowledged bool
}

// Conversation is an in-process channel holding one dialogue at a time under
// a single address. A session stays open until a reply carries end-session.
type Conversation struct {
	name    string
	address string
	timeout time.Duration
	mailbox *Mailbox
	replies <-chan bus.Envelope

	mu        sync.Mutex
	submitter Submitter
	session   string
}

// NewConversation builds a conversation channel called name whose turns wait
// at most timeout for a reply.
func NewConversation(name string, timeout time.Duration) *Conversation {
	mailbox := NewMailbox()
	address := Address(name, "local")
	replies, _ := mailbox.Open(address)

	return &Conversation{
		name:    name,
		address: address,
		timeout: timeout,
		mailbox: mailbox,
		replies: replies,
	}
}

func (c *Conversation) Name() string    { return c.name }
func (c *Conversation) Address() string { return c.address }

// Bind sets the submitter used by Send.
func (c *Conversation) Bind(submitter Submitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitter = submitter
}

// Run binds submitter and idles until ctx ends; turns are driven by Send.
func (c *Conversation) Run(ctx context.Context, submitter Submitter) error {
	if submitter == nil {
		return errors.New("submitter is required")
	}

	c.Bind(submitter)
	<-ctx.Done()
	return nil
}

func (c *Conversation) Deliver(ctx context.Context, env bus.Envelope) error {
	return c.mailbox.Deliver(ctx, env)
}

// Send submits text as a chat message and waits for the chat reply.
func (c *Conversation) Send(ctx context.Context, text string) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.submitter == nil {
		return Reply{}, errors.New("conversation is not bound to an agent")
	}

	c.drain()

	env, err := protocol.Encode(protocol.KindChatMessage, c.address, "", c.session, protocol.TextMessage(text, false))
	if err != nil {
		return Reply{}, err
	}

	submitted, err := c.submitter.Submit(ctx, env)
	if err != nil {
		return Reply{}, fmt.Errorf("submit chat message: %w", err)
	}

	waitCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	replyEnv, acknowledged, err := Await(waitCtx, c.replies, protocol.KindChatMessage)
	if err != nil {
		c.session = ""
		return Reply{Acknowledged: acknowledged}, fmt.Errorf("wait for reply: %w", err)
	}

	msg, err := protocol.Decode[protocol.ChatMessage](replyEnv)
	if err != nil {
		c.session = ""
		return Reply{Acknowledged: acknowledged}, err
	}

	reply := Reply{
		Text:         protocol.ExtractText(msg),
		EndSession:   protocol.EndsSession(msg),
		Acknowledged: acknowledged,
	}
	if reply.EndSession {
		c.session = ""
	} else {
		c.session = submitted.Session
	}

	return reply, nil
}

// drain discards replies left over from an abandoned turn.
func (c *Conversation) drain() {
	for {
		select {
		case <-c.replies:
		default:
			return
		}
	}
}

func (c *Conversation) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.timeout)
}
