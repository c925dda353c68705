package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/config"
	"chatrelay/pkg/protocol"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/require"
)

var testToken = "123456789:" + strings.Repeat("A", 35)

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	require.Len(t, allowed, 2)
	require.Contains(t, allowed, "123")
	require.Contains(t, allowed, "456")

	require.Nil(t, allowFromSet([]string{" ", ""}))
}

func TestSenderAllowed(t *testing.T) {
	adapter := &Adapter{allowFrom: map[string]struct{}{"1": {}}}
	require.True(t, adapter.senderAllowed("1"))
	require.False(t, adapter.senderAllowed("2"))

	adapter.allowFrom = nil
	require.True(t, adapter.senderAllowed("any"), "empty allow list accepts everyone")
}

func TestChatAddress(t *testing.T) {
	require.Equal(t, "telegram:42", chatAddress(42))

	chatID, err := parseChatAddress("telegram:-1001")
	require.NoError(t, err)
	require.Equal(t, int64(-1001), chatID)

	_, err = parseChatAddress("http:42")
	require.Error(t, err)
	_, err = parseChatAddress("telegram:abc")
	require.Error(t, err)
}

func TestPreviewText(t *testing.T) {
	require.Equal(t, "hello", previewText(" hello "))

	got := previewText(strings.Repeat("a", messagePreviewLimit+20))
	require.Len(t, got, messagePreviewLimit+3)
	require.True(t, strings.HasSuffix(got, "..."))
}

func TestNewAdapterRequiresToken(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{}, nil)
	require.Error(t, err)
}

type sentMessage struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type fakeBotAPI struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	if strings.HasSuffix(r.URL.Path, "/sendMessage") {
		var msg sentMessage
		_ = json.Unmarshal(body, &msg)
		f.mu.Lock()
		f.sent = append(f.sent, msg)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
		return
	}

	_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
}

func (f *fakeBotAPI) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newAdapterWithBot(t *testing.T) (*Adapter, *fakeBotAPI) {
	t.Helper()

	api := &fakeBotAPI{}
	server := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(server.Close)

	opts := []telego.BotOption{telego.WithAPIServer(server.URL), telego.WithDiscardLogger()}
	adapter, err := NewAdapter(config.TelegramConfig{Token: testToken}, nil, opts...)
	require.NoError(t, err)

	bot, err := telego.NewBot(testToken, opts...)
	require.NoError(t, err)
	adapter.setBot(bot)

	return adapter, api
}

func TestDeliverSendsChatReplyText(t *testing.T) {
	adapter, api := newAdapterWithBot(t)

	env, err := protocol.Encode(protocol.KindChatMessage, "agent:relay", "telegram:42", "s-1", protocol.TextMessage("hi", true))
	require.NoError(t, err)
	require.NoError(t, adapter.Deliver(context.Background(), env))

	sent := api.messages()
	require.Len(t, sent, 1)
	require.Equal(t, int64(42), sent[0].ChatID)
	require.Equal(t, "hi", sent[0].Text)
}

func TestDeliverSkipsAcknowledgements(t *testing.T) {
	adapter, api := newAdapterWithBot(t)

	env, err := protocol.Encode(protocol.KindChatAck, "agent:relay", "telegram:42", "s-1", protocol.ChatAcknowledgement{AcknowledgedMsgID: "m"})
	require.NoError(t, err)
	require.NoError(t, adapter.Deliver(context.Background(), env))
	require.Empty(t, api.messages())
}

func TestDeliverStopsTypingIndicator(t *testing.T) {
	adapter, _ := newAdapterWithBot(t)

	adapter.startTypingIndicator(context.Background(), 42)
	adapter.mu.Lock()
	require.Contains(t, adapter.typing, int64(42))
	adapter.mu.Unlock()

	env, err := protocol.Encode(protocol.KindChatMessage, "agent:relay", "telegram:42", "s-1", protocol.TextMessage("done", true))
	require.NoError(t, err)
	require.NoError(t, adapter.Deliver(context.Background(), env))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.NotContains(t, adapter.typing, int64(42))
}

func TestDeliverRejectsForeignAddress(t *testing.T) {
	adapter, _ := newAdapterWithBot(t)
	require.Error(t, adapter.Deliver(context.Background(), bus.Envelope{Target: "http:1", Kind: protocol.KindChatMessage}))
}

type recordingSubmitter struct {
	mu        sync.Mutex
	submitted []bus.Envelope
}

func (s *recordingSubmitter) Submit(_ context.Context, env bus.Envelope) (bus.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, env)
	return env, nil
}

func TestHandleUpdateSubmitsAllowedText(t *testing.T) {
	adapter, _ := newAdapterWithBot(t)
	adapter.allowFrom = allowFromSet([]string{"7"})
	submitter := &recordingSubmitter{}

	adapter.handleUpdate(context.Background(), submitter, telego.Update{UpdateID: 1, Message: &telego.Message{
		Text: " hello ",
		From: &telego.User{ID: 7},
		Chat: telego.Chat{ID: 42},
	}})
	adapter.handleUpdate(context.Background(), submitter, telego.Update{UpdateID: 2, Message: &telego.Message{
		Text: "blocked",
		From: &telego.User{ID: 8},
		Chat: telego.Chat{ID: 43},
	}})
	adapter.handleUpdate(context.Background(), submitter, telego.Update{UpdateID: 3})
	adapter.stopAllTyping()

	require.Len(t, submitter.submitted, 1)
	env := submitter.submitted[0]
	require.Equal(t, protocol.KindChatMessage, env.Kind)
	require.Equal(t, "telegram:42", env.Sender)

	msg, err := protocol.Decode[protocol.ChatMessage](env)
	require.NoError(t, err)
	require.Equal(t, "hello", protocol.ExtractText(msg))
	require.False(t, protocol.EndsSession(msg))
}
