package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/channel"
	"chatrelay/pkg/config"
	"chatrelay/pkg/protocol"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"
const messagePreviewLimit = 240
const typingRefreshInterval = 4 * time.Second

// Adapter bridges Telegram chats into relay envelopes addressed telegram:<chat id>.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
	botOpts   []telego.BotOption

	mu     sync.Mutex
	bot    *telego.Bot
	typing map[int64]context.CancelFunc
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger, botOpts ...telego.BotOption) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
		botOpts:   botOpts,
		typing:    make(map[int64]context.CancelFunc),
	}, nil
}

// Name returns the channel identifier used in addresses and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts Telegram long polling and submits every allowed text message.
func (a *Adapter) Run(ctx context.Context, submitter channel.Submitter) error {
	if submitter == nil {
		return errors.New("submitter is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token), a.botOpts...)
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}
	a.setBot(bot)

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")
	defer a.stopAllTyping()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.handleUpdate(ctx, submitter, update)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, submitter channel.Submitter, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		// Only text content is relayed.
		return
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	chatID := message.Chat.ID
	address := chatAddress(chatID)
	env, err := protocol.Encode(protocol.KindChatMessage, address, "", "", protocol.TextMessage(content, false))
	if err != nil {
		a.log.Error("Failed to encode inbound message", "error", err)
		return
	}

	a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "update_id", update.UpdateID, "content", previewText(content))
	a.startTypingIndicator(ctx, chatID)

	if _, err := submitter.Submit(ctx, env); err != nil {
		a.stopTyping(chatID)
		a.log.Error("Failed to submit inbound message", "chat_id", chatID, "error", err)
		a.send(ctx, chatID, err.Error())
	}
}

// Deliver sends chat replies and error reports back to the Telegram chat.
func (a *Adapter) Deliver(ctx context.Context, env bus.Envelope) error {
	chatID, err := parseChatAddress(env.Target)
	if err != nil {
		return err
	}

	var text string
	switch env.Kind {
	case protocol.KindChatAck:
		a.log.Debug("Message acknowledged", "chat_id", chatID)
		return nil
	case protocol.KindChatMessage:
		msg, err := protocol.Decode[protocol.ChatMessage](env)
		if err != nil {
			return err
		}
		text = protocol.ExtractText(msg)
	case protocol.KindError:
		failure, err := protocol.Decode[protocol.ErrorMessage](env)
		if err != nil {
			return err
		}
		text = failure.Error
	default:
		a.log.Debug("Ignoring reply kind", "chat_id", chatID, "kind", env.Kind)
		return nil
	}

	a.stopTyping(chatID)

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	return a.send(ctx, chatID, text)
}

func (a *Adapter) send(ctx context.Context, chatID int64, text string) error {
	bot := a.currentBot()
	if bot == nil {
		return errors.New("telegram bot is not running")
	}

	a.log.Info("Sending message", "chat_id", chatID, "content", previewText(text))
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		a.log.Error("Failed to send telegram message", "chat_id", chatID, "error", err)
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

func (a *Adapter) setBot(bot *telego.Bot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bot = bot
}

func (a *Adapter) currentBot() *telego.Bot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// chatAddress maps one Telegram chat to its relay address.
func chatAddress(chatID int64) string {
	return channel.Address(channelName, strconv.FormatInt(chatID, 10))
}

func parseChatAddress(address string) (int64, error) {
	name, id, ok := channel.ParseAddress(address)
	if !ok || name != channelName {
		return 0, fmt.Errorf("not a telegram address: %q", address)
	}

	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse telegram chat id %q: %w", id, err)
	}

	return chatID, nil
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends a typing action and refreshes it until the chat
// receives a reply or the adapter stops.
func (a *Adapter) startTypingIndicator(ctx context.Context, chatID int64) {
	bot := a.currentBot()
	if bot == nil {
		return
	}

	typingCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	if previous, ok := a.typing[chatID]; ok {
		previous()
	}
	a.typing[chatID] = cancel
	a.mu.Unlock()

	sendTyping := func() {
		if err := bot.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	go func() {
		sendTyping()

		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()
}

func (a *Adapter) stopTyping(chatID int64) {
	a.mu.Lock()
	cancel, ok := a.typing[chatID]
	delete(a.typing, chatID)
	a.mu.Unlock()

	if ok {
		cancel()
	}
}

func (a *Adapter) stopAllTyping() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for chatID, cancel := range a.typing {
		cancel()
		delete(a.typing, chatID)
	}
}
