package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"

	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T) (*Agent, *bus.MessageBus) {
	t.Helper()

	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	a, err := New("relay", "agent:relay", mb, nil)
	require.NoError(t, err)
	return a, mb
}

func TestNewValidatesArguments(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	_, err := New("", "agent:x", mb, nil)
	require.Error(t, err)
	_, err = New("x", " ", mb, nil)
	require.Error(t, err)
	_, err = New("x", "agent:x", nil, nil)
	require.Error(t, err)
}

func TestDispatchRoutesByKind(t *testing.T) {
	a, _ := newTestAgent(t)

	var seen []bus.Kind
	a.Handle(protocol.KindChatMessage, func(_ *Context, env bus.Envelope) error {
		seen = append(seen, env.Kind)
		return nil
	})
	a.Handle(protocol.KindChatAck, func(_ *Context, env bus.Envelope) error {
		seen = append(seen, env.Kind)
		return nil
	})

	a.Dispatch(context.Background(), bus.Envelope{Kind: protocol.KindChatAck})
	a.Dispatch(context.Background(), bus.Envelope{Kind: protocol.KindChatMessage})
	a.Dispatch(context.Background(), bus.Envelope{Kind: "unknown"})

	require.Equal(t, []bus.Kind{protocol.KindChatAck, protocol.KindChatMessage}, seen)
	require.Len(t, a.Kinds(), 2)
}

func TestDispatchRecoversPanicsAndReportsFailure(t *testing.T) {
	a, mb := newTestAgent(t)

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 8)
	defer unsubscribe()

	a.Handle(protocol.KindHealthCheck, func(*Context, bus.Envelope) error {
		panic("boom")
	})
	a.Handle(protocol.KindChatAck, func(*Context, bus.Envelope) error {
		return errors.New("bad ack")
	})

	require.NotPanics(t, func() {
		a.Dispatch(context.Background(), bus.Envelope{Kind: protocol.KindHealthCheck, Session: "s-1"})
	})
	a.Dispatch(context.Background(), bus.Envelope{Kind: protocol.KindChatAck, Session: "s-2"})

	failures := 0
	timeout := time.After(500 * time.Millisecond)
	for failures < 2 {
		select {
		case event := <-events:
			if event.Type == bus.EventRequestFailed {
				failures++
			}
		case <-timeout:
			t.Fatalf("saw %d failure events, want 2", failures)
		}
	}
}

func TestContextSendUsesSessionAndAddress(t *testing.T) {
	a, mb := newTestAgent(t)

	a.Handle(protocol.KindChatMessage, func(hc *Context, env bus.Envelope) error {
		return hc.Reply(protocol.KindChatAck, protocol.ChatAcknowledgement{AcknowledgedMsgID: "m-1"})
	})

	a.Dispatch(context.Background(), bus.Envelope{Kind: protocol.KindChatMessage, Sender: "http:1", Session: "s-9"})

	out, ok := mb.SubscribeOutbound(context.Background())
	require.True(t, ok)
	require.Equal(t, "http:1", out.Target)
	require.Equal(t, "agent:relay", out.Sender)
	require.Equal(t, "s-9", out.Session)
	require.Equal(t, protocol.KindChatAck, out.Kind)

	ack, err := protocol.Decode[protocol.ChatAcknowledgement](out)
	require.NoError(t, err)
	require.Equal(t, "m-1", ack.AcknowledgedMsgID)
}

func TestContextDeliverReportsRouteErrors(t *testing.T) {
	a, mb := newTestAgent(t)
	hc := &Context{ctx: context.Background(), agent: a, session: "s-2"}

	err := hc.Deliver("structuring:x", protocol.KindChatAck, struct{}{})
	require.ErrorIs(t, err, bus.ErrNoRoute)

	refused := errors.New("queue is full")
	var got bus.Envelope
	mb.Route("structuring:", func(_ context.Context, env bus.Envelope) error {
		got = env
		return refused
	})

	err = hc.Deliver("structuring:x", protocol.KindChatAck, struct{}{})
	require.ErrorIs(t, err, refused)
	require.Equal(t, "s-2", got.Session)
	require.Equal(t, "agent:relay", got.Sender)
}

func TestListenRoutesBeforeRun(t *testing.T) {
	a, mb := newTestAgent(t)

	a.Listen()
	env, err := protocol.Encode(protocol.KindHealthCheck, "http:1", "agent:relay", "s-1", protocol.HealthCheck{})
	require.NoError(t, err)
	require.NoError(t, mb.Deliver(context.Background(), env))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	queued, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	require.Equal(t, env.ID, queued.ID)
}

func TestSendRequiresTarget(t *testing.T) {
	a, _ := newTestAgent(t)
	hc := &Context{ctx: context.Background(), agent: a}
	require.Error(t, hc.Send("", protocol.KindChatAck, struct{}{}))
}

func TestRunConsumesSubmittedEnvelopes(t *testing.T) {
	a, mb := newTestAgent(t)

	handled := make(chan bus.Envelope, 1)
	a.Handle(protocol.KindHealthCheck, func(hc *Context, env bus.Envelope) error {
		handled <- env
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	env, err := protocol.Encode(protocol.KindHealthCheck, "http:1", "", "", protocol.HealthCheck{})
	require.NoError(t, err)
	submitted, err := a.Submit(ctx, env)
	require.NoError(t, err)
	require.NotEmpty(t, submitted.Session, "session token is assigned on submit")
	require.Equal(t, "agent:relay", submitted.Target)

	select {
	case got := <-handled:
		require.Equal(t, submitted.Session, got.Session)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	_, stillRouted := mb.Resolve("agent:relay")
	require.False(t, stillRouted)
}
