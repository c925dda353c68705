package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	address := Address(" http ", " abc ")
	require.Equal(t, "http:abc", address)

	name, id, ok := ParseAddress(address)
	require.True(t, ok)
	require.Equal(t, "http", name)
	require.Equal(t, "abc", id)

	_, _, ok = ParseAddress("nocolon")
	require.False(t, ok)
	_, _, ok = ParseAddress("http:")
	require.False(t, ok)
}

func TestMailboxDeliversToOpenAddress(t *testing.T) {
	mailbox := NewMailbox()
	replies, closeBox := mailbox.Open("http:1")
	defer closeBox()

	require.NoError(t, mailbox.Deliver(context.Background(), bus.Envelope{Target: "http:1", Kind: protocol.KindChatMessage}))

	select {
	case env := <-replies:
		require.Equal(t, protocol.KindChatMessage, env.Kind)
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestMailboxRejectsClosedAddress(t *testing.T) {
	mailbox := NewMailbox()
	_, closeBox := mailbox.Open("http:1")
	closeBox()
	closeBox()

	err := mailbox.Deliver(context.Background(), bus.Envelope{Target: "http:1"})
	require.True(t, errors.Is(err, ErrUnknownAddress))
}

func TestAwaitSkipsAcknowledgements(t *testing.T) {
	replies := make(chan bus.Envelope, 3)
	replies <- bus.Envelope{Kind: protocol.KindChatAck}
	replies <- bus.Envelope{Kind: protocol.KindError}
	replies <- bus.Envelope{Kind: protocol.KindChatMessage, ID: "reply"}

	env, acknowledged, err := Await(context.Background(), replies, protocol.KindChatMessage)
	require.NoError(t, err)
	require.True(t, acknowledged)
	require.Equal(t, "reply", env.ID)
}

func TestAwaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, acknowledged, err := Await(ctx, make(chan bus.Envelope), protocol.KindChatMessage)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, acknowledged)
}

type scriptedSubmitter struct {
	conversation *Conversation
	sessions     []string
	replies      []protocol.ChatMessage
}

func (s *scriptedSubmitter) Submit(_ context.Context, env bus.Envelope) (bus.Envelope, error) {
	s.sessions = append(s.sessions, env.Session)
	if env.Session == "" {
		env.Session = "s-" + string(rune('a'+len(s.sessions)-1))
	}

	reply := s.replies[0]
	s.replies = s.replies[1:]

	msg, _ := protocol.Decode[protocol.ChatMessage](env)
	ack, _ := protocol.Encode(protocol.KindChatAck, "agent:relay", env.Sender, env.Session, protocol.Ack(msg))
	out, _ := protocol.Encode(protocol.KindChatMessage, "agent:relay", env.Sender, env.Session, reply)
	if err := s.conversation.Deliver(context.Background(), ack); err != nil {
		return env, err
	}
	return env, s.conversation.Deliver(context.Background(), out)
}

func TestConversationKeepsSessionUntilEnded(t *testing.T) {
	conversation := NewConversation("tui", time.Second)
	require.Equal(t, "tui:local", conversation.Address())

	submitter := &scriptedSubmitter{
		conversation: conversation,
		replies: []protocol.ChatMessage{
			protocol.TextMessage("Please provide text for me to process.", false),
			protocol.TextMessage("done", true),
			protocol.TextMessage("again", true),
		},
	}
	conversation.Bind(submitter)

	reply, err := conversation.Send(context.Background(), "")
	require.NoError(t, err)
	require.True(t, reply.Acknowledged)
	require.False(t, reply.EndSession)

	reply, err = conversation.Send(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, Reply{Text: "done", EndSession: true, Acknowledged: true}, reply)

	_, err = conversation.Send(context.Background(), "more")
	require.NoError(t, err)

	require.Equal(t, []string{"", "s-a", ""}, submitter.sessions)
}

func TestConversationRequiresBinding(t *testing.T) {
	_, err := NewConversation("local", time.Second).Send(context.Background(), "hi")
	require.Error(t, err)
}
