package intake

import (
	"strings"

	"chatrelay/pkg/agent"
	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/protocol"
)

func (in *Intake) onSimpleChat(hc *agent.Context, env bus.Envelope) error {
	msg, err := in.acknowledge(hc, env)
	if err != nil {
		return err
	}

	text := protocol.ExtractText(msg)
	if strings.TrimSpace(text) == "" {
		return hc.Reply(protocol.KindChatMessage, protocol.TextMessage(PromptForText, true))
	}

	reply := in.bridgeAndRender(hc.Context(), hc.Logger(), bridge.NewRequest(text, nil))
	return hc.Reply(protocol.KindChatMessage, protocol.TextMessage(reply, true))
}
