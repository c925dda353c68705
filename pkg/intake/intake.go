// Package intake implements the chat-facing handlers: acknowledge, extract
// text, optionally structure it, bridge it, and reply to the original sender.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatrelay/pkg/agent"
	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/config"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/session"
	"chatrelay/pkg/structuring"

	"github.com/go-playground/validator/v10"
)

const (
	PromptForText    = "Please provide text for me to process."
	ApologyMessage   = "Sorry, I couldn't process your request. Please try again later."
	ConnectFailure   = "Sorry, I couldn't connect to the content analysis service. Please try again later."
	NoRewrittenText  = "Processing was successful, but no rewritten text was returned."
	errorReplyPrefix = "An error occurred: "
	unknownError     = "Unknown error"
)

var validate = validator.New()

// Bridger is the subset of bridge.Client used by intake handlers.
type Bridger interface {
	Bridge(ctx context.Context, req bridge.Request) bridge.Result
	Status(ctx context.Context) bridge.HealthStatus
}

// Options configures an Intake.
type Options struct {
	Mode               string
	ResponseField      string
	StructuringAddress string
	Sessions           session.Store
}

// Intake holds the handler dependencies shared by both variants.
type Intake struct {
	bridge             Bridger
	mode               string
	responseField      string
	structuringAddress string
	sessions           session.Store
	schema             map[string]any
}

// New validates opts and builds an Intake.
func New(b Bridger, opts Options) (*Intake, error) {
	if b == nil {
		return nil, errors.New("bridge is required")
	}

	mode := strings.TrimSpace(opts.Mode)
	if mode == "" {
		mode = config.IntakeSimple
	}

	in := &Intake{
		bridge:             b,
		mode:               mode,
		responseField:      strings.TrimSpace(opts.ResponseField),
		structuringAddress: strings.TrimSpace(opts.StructuringAddress),
		sessions:           opts.Sessions,
	}
	if in.responseField == "" {
		in.responseField = config.DefaultResponseField
	}

	switch mode {
	case config.IntakeSimple:
	case config.IntakeStructured:
		if in.structuringAddress == "" {
			return nil, errors.New("structuring address is required for structured intake")
		}
		if in.sessions == nil {
			return nil, errors.New("session store is required for structured intake")
		}
		in.schema = structuring.RequestSchema()
	default:
		return nil, fmt.Errorf("unsupported intake mode %q", mode)
	}

	return in, nil
}

func (in *Intake) Mode() string { return in.mode }

// Register installs this intake's handlers into a's dispatch table.
func (in *Intake) Register(a *agent.Agent) {
	a.Handle(protocol.KindChatAck, in.onChatAck)
	a.Handle(protocol.KindBridgeRequest, in.onBridgeRequest)
	a.Handle(protocol.KindHealthCheck, in.onHealthCheck)

	switch in.mode {
	case config.IntakeStructured:
		a.Handle(protocol.KindChatMessage, in.onStructuredChat)
		a.Handle(protocol.KindStructuredResponse, in.onStructuredResponse)
	default:
		a.Handle(protocol.KindChatMessage, in.onSimpleChat)
	}
}

// ReplyText renders result as the user-facing chat text.
func ReplyText(result bridge.Result, field string) string {
	if result.Success && len(result.Result) > 0 {
		switch value := result.Result[field].(type) {
		case nil:
			return NoRewrittenText
		case string:
			return value
		default:
			return fmt.Sprint(value)
		}
	}

	message := result.Error
	if message == "" {
		message = unknownError
	}
	return errorReplyPrefix + message
}

func (in *Intake) onChatAck(hc *agent.Context, env bus.Envelope) error {
	ack, err := protocol.Decode[protocol.ChatAcknowledgement](env)
	if err != nil {
		return err
	}

	hc.Logger().Debug("Received acknowledgement", "acknowledged_msg_id", ack.AcknowledgedMsgID)
	return nil
}

func (in *Intake) onBridgeRequest(hc *agent.Context, env bus.Envelope) error {
	req, err := protocol.Decode[protocol.BridgeRequest](env)
	if err != nil {
		return hc.Reply(protocol.KindError, protocol.ErrorMessage{Error: err.Error()})
	}

	result := in.bridge.Bridge(hc.Context(), bridge.NewRequest(req.OriginalText, req.Tags))
	if !result.Success {
		return hc.Reply(protocol.KindError, protocol.ErrorMessage{Error: result.Error})
	}

	return hc.Reply(protocol.KindBridgeResponse, result)
}

func (in *Intake) onHealthCheck(hc *agent.Context, _ bus.Envelope) error {
	return hc.Reply(protocol.KindAgentHealth, protocol.AgentHealth{
		AgentName: hc.AgentName(),
		Status:    in.bridge.Status(hc.Context()),
	})
}

func (in *Intake) acknowledge(hc *agent.Context, env bus.Envelope) (protocol.ChatMessage, error) {
	msg, err := protocol.Decode[protocol.ChatMessage](env)
	if err != nil {
		return msg, err
	}

	if err := hc.Reply(protocol.KindChatAck, protocol.Ack(msg)); err != nil {
		return msg, fmt.Errorf("acknowledge %s: %w", msg.MsgID, err)
	}

	return msg, nil
}

func (in *Intake) bridgeAndRender(ctx context.Context, log *slog.Logger, req bridge.Request) string {
	result := in.bridge.Bridge(ctx, req)
	if !result.Success {
		log.Warn("Bridge call failed", "error", result.Error)
	}

	return ReplyText(result, in.responseField)
}
