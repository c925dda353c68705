// Package agent hosts message handlers behind an explicit kind -> handler
// dispatch table fed by the message bus.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/logger"

	"github.com/google/uuid"
)

// HandlerFunc processes one decoded-by-kind envelope.
type HandlerFunc func(*Context, bus.Envelope) error

// Agent owns one address on the bus and dispatches inbound envelopes by kind.
type Agent struct {
	name    string
	address string
	bus     *bus.MessageBus
	log     *slog.Logger

	mu       sync.RWMutex
	handlers map[bus.Kind]HandlerFunc

	inflight sync.WaitGroup
}

// New builds an agent named name listening on address.
func New(name string, address string, messageBus *bus.MessageBus, log *slog.Logger) (*Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("agent name is required")
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("agent address is required")
	}
	if messageBus == nil {
		return nil, errors.New("message bus is required")
	}

	return &Agent{
		name:     name,
		address:  address,
		bus:      messageBus,
		log:      logger.Component(log, "agent").With("agent", name),
		handlers: make(map[bus.Kind]HandlerFunc),
	}, nil
}

func (a *Agent) Name() string    { return a.name }
func (a *Agent) Address() string { return a.address }

// Handle registers handler for kind, replacing any previous registration.
func (a *Agent) Handle(kind bus.Kind, handler HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = handler
}

// Handler returns the handler registered for kind.
func (a *Agent) Handler(kind bus.Kind) (HandlerFunc, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	handler, ok := a.handlers[kind]
	return handler, ok
}

// Kinds lists registered message kinds.
func (a *Agent) Kinds() []bus.Kind {
	a.mu.RLock()
	defer a.mu.RUnlock()

	kinds := make([]bus.Kind, 0, len(a.handlers))
	for kind := range a.handlers {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Submit publishes env to this agent's inbound queue, assigning a session token
// when the sender did not supply one.
func (a *Agent) Submit(ctx context.Context, env bus.Envelope) (bus.Envelope, error) {
	if env.Session == "" {
		env.Session = uuid.NewString()
	}
	if env.Target == "" {
		env.Target = a.address
	}

	if ok := a.bus.PublishInbound(ctx, env); !ok {
		return env, errors.New("agent inbox is closed")
	}

	return env, nil
}

// Listen routes the agent address to its inbox so envelopes sent to it are
// queued even before Run starts consuming.
func (a *Agent) Listen() {
	a.bus.Route(a.address, func(ctx context.Context, env bus.Envelope) error {
		if ok := a.bus.PublishInbound(ctx, env); !ok {
			return errors.New("agent inbox is closed")
		}
		return nil
	})
}

// Run consumes inbound envelopes until ctx ends or the bus closes, then waits
// for in-flight handlers.
func (a *Agent) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.Listen()
	defer a.bus.Unroute(a.address)

	a.log.Info("Agent started", "address", a.address, "kinds", len(a.Kinds()))

	for {
		env, ok := a.bus.ConsumeInbound(ctx)
		if !ok {
			a.inflight.Wait()
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}

		a.inflight.Add(1)
		go func() {
			defer a.inflight.Done()
			a.dispatch(ctx, env)
		}()
	}
}

// Dispatch runs the handler for env synchronously.
func (a *Agent) Dispatch(ctx context.Context, env bus.Envelope) {
	a.dispatch(ctx, env)
}

func (a *Agent) dispatch(ctx context.Context, env bus.Envelope) {
	log := a.log.With(logger.KeySession, env.Session, "kind", env.Kind, "sender", env.Sender)

	handler, ok := a.Handler(env.Kind)
	if !ok {
		log.Warn("Dropping envelope with unregistered kind")
		return
	}

	hc := &Context{
		ctx:     ctx,
		agent:   a,
		session: env.Session,
		sender:  env.Sender,
		log:     log,
	}

	a.bus.PublishEvent(ctx, bus.Event{Type: bus.EventRequestReceived, Kind: env.Kind, Sender: env.Sender, Session: env.Session, RequestID: env.ID})

	err := safeInvoke(handler, hc, env)
	if err != nil {
		log.Error("Handler failed", "error", err)
		a.bus.PublishEvent(ctx, bus.Event{Type: bus.EventRequestFailed, Kind: env.Kind, Sender: env.Sender, Session: env.Session, RequestID: env.ID, Error: err.Error()})
		return
	}

	a.bus.PublishEvent(ctx, bus.Event{Type: bus.EventRequestCompleted, Kind: env.Kind, Sender: env.Sender, Session: env.Session, RequestID: env.ID})
}

func safeInvoke(handler HandlerFunc, hc *Context, env bus.Envelope) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v\n%s", recovered, debug.Stack())
		}
	}()

	return handler(hc, env)
}
