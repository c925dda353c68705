// Package protocol defines the payloads exchanged between chat senders, the
// relay agent, and the structuring service, and their envelope encoding.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	KindChatMessage        bus.Kind = "chat_message"
	KindChatAck            bus.Kind = "chat_acknowledgement"
	KindStructuredPrompt   bus.Kind = "structured_output_prompt"
	KindStructuredResponse bus.Kind = "structured_output_response"
	KindBridgeRequest      bus.Kind = "bridge_request"
	KindBridgeResponse     bus.Kind = "bridge_response"
	KindError              bus.Kind = "error"
	KindHealthCheck        bus.Kind = "health_check"
	KindAgentHealth        bus.Kind = "agent_health"
)

const (
	ContentText       = "text"
	ContentEndSession = "end-session"
)

// ContentBlock is one typed fragment of a chat message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is a chat-style message with ordered content blocks.
type ChatMessage struct {
	Timestamp time.Time      `json:"timestamp"`
	MsgID     string         `json:"msg_id"`
	Content   []ContentBlock `json:"content"`
}

// ChatAcknowledgement confirms receipt of a ChatMessage.
type ChatAcknowledgement struct {
	Timestamp         time.Time `json:"timestamp"`
	AcknowledgedMsgID string    `json:"acknowledged_msg_id"`
}

// StructuredOutputPrompt asks the structuring service to fit prompt to OutputSchema.
type StructuredOutputPrompt struct {
	Prompt       string         `json:"prompt"`
	OutputSchema map[string]any `json:"output_schema"`
}

// StructuredOutputResponse carries the structuring service's output object.
type StructuredOutputResponse struct {
	Output map[string]any `json:"output"`
}

// BridgeRequest asks the agent to bridge an already structured request.
type BridgeRequest = bridge.Request

// BridgeResponse is the reply to a successful BridgeRequest.
type BridgeResponse = bridge.Result

// ErrorMessage reports a failed request to its sender.
type ErrorMessage struct {
	Error string `json:"error"`
}

// HealthCheck asks the agent to report its liveness.
type HealthCheck struct{}

// AgentHealth answers a HealthCheck.
type AgentHealth struct {
	AgentName string              `json:"agent_name"`
	Status    bridge.HealthStatus `json:"status"`
}

// NewChatMessage builds a message with a fresh id and the given blocks.
func NewChatMessage(blocks ...ContentBlock) ChatMessage {
	return ChatMessage{
		Timestamp: time.Now().UTC(),
		MsgID:     uuid.NewString(),
		Content:   blocks,
	}
}

// TextMessage builds a single-text message, optionally closing the session.
func TextMessage(text string, endSession bool) ChatMessage {
	blocks := []ContentBlock{{Type: ContentText, Text: text}}
	if endSession {
		blocks = append(blocks, ContentBlock{Type: ContentEndSession})
	}

	return NewChatMessage(blocks...)
}

// Ack acknowledges msg.
func Ack(msg ChatMessage) ChatAcknowledgement {
	return ChatAcknowledgement{Timestamp: time.Now().UTC(), AcknowledgedMsgID: msg.MsgID}
}

// ExtractText concatenates every text block in order.
func ExtractText(msg ChatMessage) string {
	return strings.Join(lo.FilterMap(msg.Content, func(block ContentBlock, _ int) (string, bool) {
		return block.Text, block.Type == ContentText
	}), "")
}

// EndsSession reports whether msg carries an end-session marker.
func EndsSession(msg ChatMessage) bool {
	return lo.ContainsBy(msg.Content, func(block ContentBlock) bool {
		return block.Type == ContentEndSession
	})
}

// Encode wraps payload in an envelope.
func Encode(kind bus.Kind, sender string, target string, session string, payload any) (bus.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return bus.Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	return bus.Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		Sender:  sender,
		Target:  target,
		Session: session,
		SentAt:  time.Now().UTC(),
		Payload: raw,
	}, nil
}

// Decode unmarshals the envelope payload into T.
func Decode[T any](env bus.Envelope) (T, error) {
	var payload T
	if len(env.Payload) == 0 {
		return payload, fmt.Errorf("decode %s payload: empty payload", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}

	return payload, nil
}
