// Package structuring turns free text into a bridge request object and serves
// structured-output prompts arriving over the message bus.
package structuring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatrelay/pkg/config"
	"chatrelay/pkg/structuring/openai"
)

// UnknownMarker is the sentinel value a structurer emits when it cannot
// produce a usable request.
const UnknownMarker = "<UNKNOWN>"

// Structurer converts prompt into an object matching schema.
type Structurer interface {
	Structure(ctx context.Context, prompt string, schema map[string]any) (map[string]any, error)
}

// New resolves the structurer selected by cfg.Provider.
func New(cfg config.StructuringConfig) (Structurer, error) {
	providerID := strings.TrimSpace(cfg.Provider)
	if providerID == "" {
		providerID = config.StructurerPassthrough
	}

	slog.Default().With("component", "structuring.factory").Debug("Resolving structurer", "provider", providerID)

	switch providerID {
	case config.StructurerPassthrough:
		return Passthrough{}, nil
	case config.StructurerOpenAI:
		return openai.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported structuring provider: %s", providerID)
	}
}

// Passthrough wraps the prompt verbatim with no tags.
type Passthrough struct{}

func (Passthrough) Structure(_ context.Context, prompt string, _ map[string]any) (map[string]any, error) {
	if strings.TrimSpace(prompt) == "" {
		return map[string]any{"originalText": UnknownMarker, "tags": []any{}}, nil
	}

	return map[string]any{"originalText": prompt, "tags": []any{}}, nil
}

// Unknown is the output sent back when structuring fails.
func Unknown() map[string]any {
	return map[string]any{"originalText": UnknownMarker}
}
