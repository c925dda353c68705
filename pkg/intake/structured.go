package intake

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatrelay/pkg/agent"
	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"
	"chatrelay/pkg/structuring"
)

func (in *Intake) onStructuredChat(hc *agent.Context, env bus.Envelope) error {
	log := hc.Logger()

	if err := in.sessions.Put(hc.Context(), hc.Session(), hc.Sender()); err != nil {
		log.Error("Failed to store session sender", "error", err)
		if _, ackErr := in.acknowledge(hc, env); ackErr != nil {
			return ackErr
		}
		return hc.Reply(protocol.KindChatMessage, protocol.TextMessage(ApologyMessage, true))
	}

	msg, err := in.acknowledge(hc, env)
	if err != nil {
		in.forget(hc)
		return err
	}

	text := protocol.ExtractText(msg)
	if strings.TrimSpace(text) == "" {
		in.forget(hc)
		return hc.Reply(protocol.KindChatMessage, protocol.TextMessage(PromptForText, false))
	}

	prompt := protocol.StructuredOutputPrompt{Prompt: text, OutputSchema: in.schema}
	if err := hc.Deliver(in.structuringAddress, protocol.KindStructuredPrompt, prompt); err != nil {
		log.Error("Structuring service unreachable", "address", in.structuringAddress, "error", err)
		in.forget(hc)
		return hc.Reply(protocol.KindChatMessage, protocol.TextMessage(ConnectFailure, true))
	}

	log.Debug("Sent structuring prompt", "address", in.structuringAddress, "text_length", len(text))
	return nil
}

func (in *Intake) onStructuredResponse(hc *agent.Context, env bus.Envelope) error {
	log := hc.Logger()

	sender, ok, err := in.sessions.Take(hc.Context(), hc.Session())
	if err != nil {
		return fmt.Errorf("lookup session sender: %w", err)
	}
	if !ok {
		log.Warn("No sender stored for session; dropping structured output")
		hc.Bus().PublishEvent(hc.Context(), bus.Event{
			Type:      bus.EventReplyDropped,
			Kind:      env.Kind,
			Sender:    env.Sender,
			Session:   hc.Session(),
			RequestID: env.ID,
			Error:     "no sender stored for session",
		})
		return nil
	}

	reply := func(text string) error {
		return hc.Send(sender, protocol.KindChatMessage, protocol.TextMessage(text, true))
	}

	response, err := protocol.Decode[protocol.StructuredOutputResponse](env)
	if err != nil {
		log.Error("Invalid structured output", "error", err)
		return reply(ApologyMessage)
	}

	req, err := requestFromOutput(response.Output)
	if err != nil {
		log.Warn("Structured output rejected", "error", err)
		return reply(ApologyMessage)
	}

	return reply(in.bridgeAndRender(hc.Context(), log, req))
}

// requestFromOutput validates a structuring output and converts it to a request.
func requestFromOutput(output map[string]any) (bridge.Request, error) {
	if strings.Contains(fmt.Sprint(output), structuring.UnknownMarker) {
		return bridge.Request{}, fmt.Errorf("structured output contains %s", structuring.UnknownMarker)
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return bridge.Request{}, fmt.Errorf("encode structured output: %w", err)
	}

	var req bridge.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return bridge.Request{}, fmt.Errorf("decode structured output: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		return bridge.Request{}, fmt.Errorf("validate structured output: %w", err)
	}

	return bridge.NewRequest(req.OriginalText, req.Tags), nil
}

func (in *Intake) forget(hc *agent.Context) {
	if _, _, err := in.sessions.Take(hc.Context(), hc.Session()); err != nil {
		hc.Logger().Warn("Failed to clear session sender", "error", err)
	}
}
